package analysis

import "github.com/google/jsonschema-go/jsonschema"

// record is the wire shape an analysis LLM call must produce. Its
// json-schema descriptor is generated once at package init and
// travels with every ProcessingVersion (see thothmodel.ProcessingVersion.ProcessingConfig).
type record struct {
	Summary     string            `json:"summary" jsonschema:"a concise summary of the paper's contribution"`
	KeyFindings []string          `json:"key_findings" jsonschema:"the paper's principal findings, one per entry"`
	Abstract    string            `json:"abstract" jsonschema:"the paper's own abstract, verbatim where present"`
	Methodology string            `json:"methodology" jsonschema:"a short description of the methodology used"`
	Results     string            `json:"results" jsonschema:"the main experimental or theoretical results"`
	Limitations []string          `json:"limitations" jsonschema:"limitations the authors acknowledge, one per entry"`
	RelatedWork string            `json:"related_work" jsonschema:"how the paper positions itself against prior work"`
	Tags        []string          `json:"tags" jsonschema:"short topical tags for the paper, lowercase"`
	Extensions  map[string]string `json:"extensions,omitempty" jsonschema:"schema-defined extension fields, if any were requested"`
}

// Schema is the descriptor CallStructured validates every analysis
// response against.
var Schema *jsonschema.Schema

func init() {
	s, err := jsonschema.For[record](nil)
	if err != nil {
		panic("analysis: failed to build schema descriptor: " + err.Error())
	}
	Schema = s
}
