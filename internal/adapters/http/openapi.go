package httpadapter

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed api/openapi.yaml
var openAPISpec []byte

const searchPath = "/v1/retrieval/search"

func loadAPIDocument(ctx context.Context) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	loader.Context = ctx
	doc, err := loader.LoadFromData(openAPISpec)
	if err != nil {
		return nil, fmt.Errorf("load openapi document: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("validate openapi document: %w", err)
	}
	if searchRequestSchema(doc) == nil {
		return nil, fmt.Errorf("openapi document has no request schema for %s", searchPath)
	}
	return doc, nil
}

func searchRequestSchema(doc *openapi3.T) *openapi3.Schema {
	if doc == nil || doc.Paths == nil {
		return nil
	}
	item := doc.Paths.Find(searchPath)
	if item == nil || item.Post == nil || item.Post.RequestBody == nil || item.Post.RequestBody.Value == nil {
		return nil
	}
	media := item.Post.RequestBody.Value.Content.Get("application/json")
	if media == nil || media.Schema == nil {
		return nil
	}
	return media.Schema.Value
}

// validateSearchBody checks the raw body against the published request schema.
func (rt *Router) validateSearchBody(raw []byte) error {
	var body any
	if err := json.Unmarshal(raw, &body); err != nil {
		return errors.New("invalid json")
	}
	if err := searchRequestSchema(rt.api).VisitJSON(body); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}
	return nil
}

func (rt *Router) openAPIDocument(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, rt.api)
}
