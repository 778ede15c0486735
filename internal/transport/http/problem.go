package transporthttp

import (
	"encoding/json"
	"net/http"

	"example.com/attribution/internal/domain"
)

type Problem struct {
	Type     string              `json:"type,omitempty"`
	Title    string              `json:"title,omitempty"`
	Status   int                 `json:"status,omitempty"`
	Detail   string              `json:"detail,omitempty"`
	Instance string              `json:"instance,omitempty"`
	Errors   map[string][]string `json:"errors,omitempty"`
	Meta     map[string]any      `json:"meta,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, contentType string, v any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteProblem(w http.ResponseWriter, status int, title, detail string, errs map[string][]string) {
	writeJSON(w, status, "application/problem+json", Problem{
		Title:  title,
		Status: status,
		Detail: detail,
		Errors: errs,
	})
}

// WriteProblemMeta is WriteProblem with extra members.
func WriteProblemMeta(w http.ResponseWriter, status int, title, detail string, meta map[string]any) {
	writeJSON(w, status, "application/problem+json", Problem{
		Title:  title,
		Status: status,
		Detail: detail,
		Meta:   meta,
	})
}

// fieldProblems groups validation errors by field.
func fieldProblems(errs []domain.FieldError) map[string][]string {
	prob := map[string][]string{}
	for _, fe := range errs {
		prob[fe.Field] = append(prob[fe.Field], fe.Msg)
	}
	return prob
}
