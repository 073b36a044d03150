package service

// OpenAPIDocument represents the complete OpenAPI 3.0 specification
type OpenAPIDocument struct {
	OpenAPI string              `json:"openapi"`
	Info    InfoSpec            `json:"info"`
	Paths   map[string]PathSpec `json:"paths"`
	Tags    []TagSpec           `json:"tags,omitempty"`
}

// PathSpec defines HTTP operations for a specific path
type PathSpec struct {
	GET  *OperationSpec `json:"get,omitempty"`
	POST *OperationSpec `json:"post,omitempty"`
}

// OperationSpec defines a single HTTP operation
type OperationSpec struct {
	Summary     string                  `json:"summary"`
	Description string                  `json:"description,omitempty"`
	Parameters  []ParameterSpec         `json:"parameters,omitempty"`
	Responses   map[string]ResponseSpec `json:"responses"`
	Tags        []string                `json:"tags,omitempty"`
}

// ParameterSpec defines an operation parameter
type ParameterSpec struct {
	Name        string `json:"name"`
	In          string `json:"in"` // "query", "path", "header"
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
	Schema      Schema `json:"schema,omitempty"`
}

// ResponseSpec defines an operation response
type ResponseSpec struct {
	Description string `json:"description"`
	ContentType string `json:"content_type,omitempty"`
}

// Schema defines parameter or response schema
type Schema struct {
	Type string   `json:"type"`
	Enum []string `json:"enum,omitempty"`
}

// InfoSpec contains API metadata
type InfoSpec struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Version     string `json:"version"`
}

// TagSpec defines an API tag for grouping operations
type TagSpec struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func nameParameter(kind string) ParameterSpec {
	return ParameterSpec{
		Name:        "name",
		In:          "path",
		Required:    true,
		Description: kind + " adapter name",
		Schema:      Schema{Type: "string"},
	}
}

func adapterPaths(doc *OpenAPIDocument, kind, tag string, commands []string) {
	base := "/api/" + kind
	doc.Paths[base] = PathSpec{GET: &OperationSpec{
		Summary:   "List " + kind,
		Tags:      []string{tag},
		Responses: map[string]ResponseSpec{"200": {Description: "Adapter summaries", ContentType: "application/json"}},
	}}
	doc.Paths[base+"/{name}/status"] = PathSpec{GET: &OperationSpec{
		Summary:     "Adapter status report",
		Description: "Human readable status text of one adapter",
		Tags:        []string{tag},
		Parameters:  []ParameterSpec{nameParameter(tag)},
		Responses: map[string]ResponseSpec{
			"200": {Description: "Status report", ContentType: "text/plain"},
			"404": {Description: "Adapter not found"},
		},
	}}
	doc.Paths[base+"/{name}/{command}"] = PathSpec{POST: &OperationSpec{
		Summary:     "Execute an administrative command",
		Description: "Arguments are taken from the query string or a JSON object body",
		Tags:        []string{tag},
		Parameters: []ParameterSpec{
			nameParameter(tag),
			{Name: "command", In: "path", Required: true, Schema: Schema{Type: "string", Enum: commands}},
		},
		Responses: map[string]ResponseSpec{
			"200": {Description: "Command result message", ContentType: "application/json"},
			"400": {Description: "Unknown command or invalid argument"},
			"404": {Description: "Adapter not found"},
			"409": {Description: "Operation already in progress"},
			"503": {Description: "Adapter not connected"},
		},
	}}
}

// OpenAPI describes the admin endpoints.
func (a *Admin) OpenAPI() *OpenAPIDocument {
	doc := &OpenAPIDocument{
		OpenAPI: "3.0.3",
		Info: InfoSpec{
			Title:       "phasorstreams admin API",
			Description: "Inspection and control of phasor inputs and concentrator outputs",
			Version:     "1.0.0",
		},
		Paths: make(map[string]PathSpec),
		Tags: []TagSpec{
			{Name: "Inputs", Description: "Inbound phasor mappers"},
			{Name: "Outputs", Description: "Outbound phasor data concentrators"},
			{Name: "System", Description: "Health and statistics"},
		},
	}
	adapterPaths(doc, "inputs", "Inputs", a.inputCommands)
	adapterPaths(doc, "outputs", "Outputs", a.outputCommands)

	doc.Paths["/api/statistics"] = PathSpec{GET: &OperationSpec{
		Summary:   "Latest statistics of every source",
		Tags:      []string{"System"},
		Responses: map[string]ResponseSpec{"200": {Description: "Statistic snapshots", ContentType: "application/json"}},
	}}
	doc.Paths["/api/statistics/{source}"] = PathSpec{GET: &OperationSpec{
		Summary: "Latest statistics of one source",
		Tags:    []string{"System"},
		Parameters: []ParameterSpec{{
			Name: "source", In: "path", Required: true, Schema: Schema{Type: "string"},
		}},
		Responses: map[string]ResponseSpec{
			"200": {Description: "Statistic snapshot", ContentType: "application/json"},
			"404": {Description: "No statistics for source"},
		},
	}}
	doc.Paths["/health"] = PathSpec{GET: &OperationSpec{
		Summary: "Aggregated system health",
		Tags:    []string{"System"},
		Responses: map[string]ResponseSpec{
			"200": {Description: "Healthy or degraded", ContentType: "application/json"},
			"503": {Description: "Unhealthy", ContentType: "application/json"},
		},
	}}
	if a.monitor != nil {
		doc.Paths[a.monitor.Path()] = PathSpec{GET: &OperationSpec{
			Summary:     "Live measurement feed",
			Description: "WebSocket upgrade; filter with source and key query parameters",
			Tags:        []string{"System"},
			Responses:   map[string]ResponseSpec{"101": {Description: "Switching protocols"}},
		}}
	}
	return doc
}
