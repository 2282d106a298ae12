package plan

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// Schema returns the JSON schema of the FillPlan wire format.
func Schema() ([]byte, error) {
	r := &jsonschema.Reflector{
		DoNotReference: true,
	}
	s := r.Reflect(&FillPlan{})
	s.Title = "FillPlan"
	s.Description = "Ordered description of the rows to enter into the time report form."
	return json.MarshalIndent(s, "", "  ")
}
