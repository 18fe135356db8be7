package query

import "github.com/memoryd/memoryd/internal/model"

// CombinedBuilder fuses scalar filters, full-text scoring, and vector
// similarity into one SELECT. Graph traversal is kept separate because its
// shape is a UNION rather than a single SELECT.
type CombinedBuilder struct {
	*Builder
	vectorField   string
	fulltextField string
	hasVector     bool
	hasFulltext   bool
	graph         *GraphBuilder
}

// NewCombined starts a combined query against table.
func NewCombined(table string) *CombinedBuilder {
	c := &CombinedBuilder{Builder: New(table)}
	if reg, ok := model.Lookup(table); ok {
		for _, f := range reg.Fields {
			if f.IsVectorField {
				c.vectorField = f.Name
			}
			if f.IsFulltextField {
				c.fulltextField = f.Name
			}
		}
	}
	return c
}

// Where delegates to the embedded Builder but returns *CombinedBuilder so
// callers can keep chaining combined-only methods.
func (c *CombinedBuilder) Where(field string, value any, op ...Op) *CombinedBuilder {
	c.Builder.Where(field, value, op...)
	return c
}

// WithEmbeddingSimilarity binds the query vector and projects a
// cosine-similarity score, same contract as VectorBuilder.
func (c *CombinedBuilder) WithEmbeddingSimilarity(vec []float64) *CombinedBuilder {
	if c.Err() != nil || c.vectorField == "" {
		if c.vectorField == "" {
			c.fail(unsafeIdentifierf("table %q declares no vector field", c.Table()))
		}
		return c
	}
	values := make([]any, len(vec))
	for i, x := range vec {
		values[i] = x
	}
	param := c.nextParamName(values)
	c.addProjection("cosine(" + c.vectorField + ", " + param + ") AS similarity_score")
	c.hasVector = true
	return c
}

// Search prepends the fulltext match predicate and projects a relevance
// score, same contract as FulltextBuilder.
func (c *CombinedBuilder) Search(text string) *CombinedBuilder {
	if c.Err() != nil || c.fulltextField == "" {
		if c.fulltextField == "" {
			c.fail(unsafeIdentifierf("table %q declares no fulltext field", c.Table()))
		}
		return c
	}
	param := c.nextParamName(text)
	c.rawWhere(c.fulltextField + " @@ " + param)
	c.addProjection("search::score(0) AS relevance_score")
	c.hasFulltext = true
	return c
}

// WithGraph attaches a separate graph traversal component, emitted
// alongside (not fused into) the main SELECT.
func (c *CombinedBuilder) WithGraph(g *GraphBuilder) *CombinedBuilder {
	c.graph = g
	return c
}

// Result is the output of BuildAll: a main combined query plus an optional
// separate graph query.
type Result struct {
	Main       string
	MainParams map[string]any
	HasGraph   bool
	Graph      string
	GraphParams map[string]any
}

// BuildAll renders the main query (defaulting its tie-break order when both
// vector and fulltext scoring are active: similarity_score DESC, then
// relevance_score DESC) plus the optional graph query.
func (c *CombinedBuilder) BuildAll() (Result, error) {
	if c.Err() == nil && !c.HasOrder() {
		switch {
		case c.hasVector && c.hasFulltext:
			c.OrderBy("similarity_score", Descending)
			c.OrderBy("relevance_score", Descending)
		case c.hasVector:
			c.OrderBy("similarity_score", Descending)
		case c.hasFulltext:
			c.OrderBy("relevance_score", Descending)
		}
	}
	sql, params, err := c.Builder.Build()
	if err != nil {
		return Result{}, err
	}
	res := Result{Main: sql, MainParams: params}
	if c.graph != nil {
		gsql, gparams, gerr := c.graph.Build()
		if gerr != nil {
			return Result{}, gerr
		}
		res.HasGraph = true
		res.Graph = gsql
		res.GraphParams = gparams
	}
	return res, nil
}
