package link

import (
	"encoding/json"

	"github.com/vektah/gqlparser/v2/gqlerror"
)

// Result is one GraphQL response. Queries and mutations produce one Result;
// subscriptions may produce many.
type Result struct {
	Data       json.RawMessage `json:"data,omitempty"`
	Errors     gqlerror.List   `json:"errors,omitempty"`
	Extensions map[string]any  `json:"extensions,omitempty"`
}

// UnmarshalData decodes the data entry into v. A missing entry leaves v untouched.
func (r *Result) UnmarshalData(v any) error {
	if len(r.Data) == 0 {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}
