package mcp

// Tool represents an MCP tool definition
type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"inputSchema"`
}

// InputSchema defines the JSON schema for tool input
type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Property defines a property in the schema
type Property struct {
	Type        string              `json:"type"`
	Description string              `json:"description,omitempty"`
	Enum        []string            `json:"enum,omitempty"`
	Items       *Property           `json:"items,omitempty"`
	Properties  map[string]Property `json:"properties,omitempty"`
	Default     any                 `json:"default,omitempty"`
}

// filterProperties are the equality filters every read tool accepts.
var filterProperties = map[string]Property{
	"user_id":  {Type: "string", Description: "Only records of this user"},
	"run_id":   {Type: "string", Description: "Only records of this run"},
	"agent_id": {Type: "string", Description: "Only records of this agent"},
}

// VectorTools defines all available MCP tools for vector operations
var VectorTools = []Tool{
	{
		Name:        "vector_search",
		Description: "Find the stored records most similar to a query text or vector, best match first.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"query": {
					Type:        "string",
					Description: "Text to search for. Embedded when no vector is given.",
				},
				"vector": {
					Type:        "array",
					Description: "Query embedding",
					Items:       &Property{Type: "number"},
				},
				"limit": {
					Type:        "integer",
					Description: "Maximum number of hits",
					Default:     5,
				},
				"hybrid": {
					Type:        "boolean",
					Description: "Also rank by full-text relevance of the query",
					Default:     false,
				},
				"filters": {
					Type:       "object",
					Properties: filterProperties,
				},
			},
		},
	},
	{
		Name:        "vector_get",
		Description: "Read one record by id.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"id": {Type: "string", Description: "Record id"},
			},
			Required: []string{"id"},
		},
	},
	{
		Name:        "vector_list",
		Description: "List stored records, optionally filtered by user, run or agent.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"limit": {
					Type:        "integer",
					Description: "Maximum number of records",
					Default:     100,
				},
				"filters": {
					Type:       "object",
					Properties: filterProperties,
				},
			},
		},
	},
	{
		Name:        "vector_insert",
		Description: "Store records. Texts are embedded; ids are generated when omitted.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"texts": {
					Type:        "array",
					Description: "Texts to embed and store",
					Items:       &Property{Type: "string"},
				},
				"vectors": {
					Type:        "array",
					Description: "Precomputed embeddings, one per record",
					Items:       &Property{Type: "array", Items: &Property{Type: "number"}},
				},
				"ids": {
					Type:        "array",
					Description: "Record ids, one per record",
					Items:       &Property{Type: "string"},
				},
				"payloads": {
					Type:        "array",
					Description: "Metadata objects, one per record",
					Items:       &Property{Type: "object"},
				},
			},
		},
	},
	{
		Name:        "vector_delete",
		Description: "Delete one record by id.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"id": {Type: "string", Description: "Record id"},
			},
			Required: []string{"id"},
		},
	},
}
