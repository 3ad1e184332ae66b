package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rpgmcp/rpgmcp/internal/rpg"
)

// httpParserCollaborator and httpEmbeddingCollaborator call out to an
// external HTTP service per internal/rpg/parser.go's and embedding.go's
// collaborator contract (§9 Polymorphism): the core never decides how
// parsing or embedding happens, only what shape the request/response
// takes. There is no general-purpose parser/embedding SDK in the example
// pack to import (internal/emergent/client.go wraps a company-internal
// SDK unavailable outside that repo), so these wrap the standard
// library's net/http directly, mirroring the retry-at-the-boundary shape
// the teacher's own client.go uses one layer up.

type httpParserCollaborator struct {
	url    string
	client *http.Client
}

func newHTTPParserCollaborator(url string, timeout time.Duration) *httpParserCollaborator {
	return &httpParserCollaborator{url: url, client: &http.Client{Timeout: timeout}}
}

type parseRequest struct {
	FilePath string `json:"file_path"`
	Language string `json:"language"`
	Contents string `json:"contents"`
}

type parseResponse struct {
	Entities []rpg.Entity                      `json:"entities"`
	Hints    map[string][]rpg.DependencyHint   `json:"hints"`
}

func (c *httpParserCollaborator) Parse(ctx context.Context, filePath, language string, contents []byte) (rpg.ParsedFile, error) {
	body, err := json.Marshal(parseRequest{FilePath: filePath, Language: language, Contents: string(contents)})
	if err != nil {
		return rpg.ParsedFile{}, fmt.Errorf("encoding parse request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return rpg.ParsedFile{}, fmt.Errorf("building parse request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return rpg.ParsedFile{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return rpg.ParsedFile{}, fmt.Errorf("parser collaborator returned status %d", resp.StatusCode)
	}

	var out parseResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return rpg.ParsedFile{}, fmt.Errorf("decoding parse response: %w", err)
	}
	return rpg.ParsedFile{Entities: out.Entities, Hints: out.Hints}, nil
}

type httpEmbeddingCollaborator struct {
	url    string
	client *http.Client
}

func newHTTPEmbeddingCollaborator(url string, timeout time.Duration) *httpEmbeddingCollaborator {
	return &httpEmbeddingCollaborator{url: url, client: &http.Client{Timeout: timeout}}
}

type embedRequest struct {
	Text string `json:"text"`
}

type embedResponse struct {
	Vector []float64 `json:"vector"`
}

func (c *httpEmbeddingCollaborator) Embed(ctx context.Context, text string) ([]float64, error) {
	body, err := json.Marshal(embedRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("encoding embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding collaborator returned status %d", resp.StatusCode)
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding embed response: %w", err)
	}
	return out.Vector, nil
}
