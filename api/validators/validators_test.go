package validators

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	pkgerrors "github.com/natalfamilia/natal-backend/pkg/errors"
)

type sampleRequest struct {
	Name string `json:"name" validate:"required,min=2,max=10"`
	Link string `json:"link" validate:"omitempty,url"`
}

func (s *sampleRequest) Normalize() {
	s.Name = SanitizeString(s.Name, 0)
}

func jsonRequest(body string) *http.Request {
	return httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
}

func TestDecodeJSONBodyNormalizesBeforeValidating(t *testing.T) {
	var req sampleRequest
	if err := DecodeJSONBody(jsonRequest(`{"name":"  Ana  "}`), &req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Name != "Ana" {
		t.Fatalf("expected trimmed name, got %q", req.Name)
	}

	err := DecodeJSONBody(jsonRequest(`{"name":"   a   "}`), &sampleRequest{})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	details, ok := typed.Details().(map[string]string)
	if !ok || details["name"] == "" {
		t.Fatalf("expected field detail for name, got %#v", typed.Details())
	}
}

func TestDecodeJSONBodyRejects(t *testing.T) {
	cases := map[string]string{
		"unknown field":   `{"name":"Ana","price":1}`,
		"malformed":       `{"name":`,
		"trailing object": `{"name":"Ana"}{"name":"Bob"}`,
		"bad url":         `{"name":"Ana","link":"not a url"}`,
	}
	for name, body := range cases {
		err := DecodeJSONBody(jsonRequest(body), &sampleRequest{})
		if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
}

func TestSanitizeStringCountsRunes(t *testing.T) {
	if got := SanitizeString("  Feliz Natal  ", 0); got != "Feliz Natal" {
		t.Fatalf("unexpected %q", got)
	}
	if got := SanitizeString("Família", 4); got != "Famí" {
		t.Fatalf("expected rune-safe cut, got %q", got)
	}
}

func withParam(name, value string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(name, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestParseUUIDParam(t *testing.T) {
	id := uuid.New()
	got, err := ParseUUIDParam(withParam("id", id.String()), "id")
	if err != nil || got != id {
		t.Fatalf("expected %s, got %s (%v)", id, got, err)
	}
	for _, raw := range []string{"", "not-a-uuid", "../etc"} {
		_, err := ParseUUIDParam(withParam("id", raw), "id")
		if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
			t.Fatalf("%q: expected validation error, got %v", raw, err)
		}
	}
}

func TestParseLimit(t *testing.T) {
	cases := map[string]struct {
		query   string
		want    int
		wantErr bool
	}{
		"missing":  {query: "/", want: 50},
		"in range": {query: "/?limit=20", want: 20},
		"clamped":  {query: "/?limit=9000", want: 200},
		"zero":     {query: "/?limit=0", wantErr: true},
		"word":     {query: "/?limit=ten", wantErr: true},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := ParseLimit(httptest.NewRequest(http.MethodGet, tc.query, nil), 50, 200)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected validation error")
				}
				return
			}
			if err != nil || got != tc.want {
				t.Fatalf("expected %d, got %d (%v)", tc.want, got, err)
			}
		})
	}
}
