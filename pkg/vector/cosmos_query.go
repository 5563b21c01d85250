package vector

import (
	"fmt"
	"strings"
)

// QueryParam is a named parameter of a Cosmos SQL query.
type QueryParam struct {
	Name  string
	Value any
}

// BuildCosmosQuery renders q as Cosmos DB SQL.
func BuildCosmosQuery(q ItemQuery) (string, []QueryParam) {
	var (
		sb     strings.Builder
		params []QueryParam
	)

	sb.WriteString("SELECT ")
	if q.Limit > 0 && !q.Unranked {
		sb.WriteString("TOP @limit ")
		params = append(params, QueryParam{Name: "@limit", Value: q.Limit})
	}

	if len(q.Vector) > 0 {
		params = append(params, QueryParam{Name: "@vector", Value: q.Vector})
		sb.WriteString("c.id, c.payload, c.user_id, c.run_id, c.agent_id, VectorDistance(c.vector, @vector) AS score FROM c")
	} else {
		sb.WriteString("* FROM c")
	}

	for i, f := range q.Filters {
		if i == 0 {
			sb.WriteString(" WHERE ")
		} else {
			sb.WriteString(" AND ")
		}
		name := "@" + f.Field
		fmt.Fprintf(&sb, "c.%s = %s", f.Field, name)
		params = append(params, QueryParam{Name: name, Value: f.Value})
	}

	if len(q.Vector) == 0 || q.Unranked {
		return sb.String(), params
	}

	if len(q.FullText) == 0 {
		sb.WriteString(" ORDER BY VectorDistance(c.vector, @vector)")
		return sb.String(), params
	}

	terms := make([]string, len(q.FullText))
	for i, term := range q.FullText {
		terms[i] = fmt.Sprintf("@term%d", i)
		params = append(params, QueryParam{Name: terms[i], Value: term})
	}
	fmt.Fprintf(&sb, " ORDER BY RANK RRF(VectorDistance(c.vector, @vector), FullTextScore(c.payload, %s))",
		strings.Join(terms, ", "))
	return sb.String(), params
}
