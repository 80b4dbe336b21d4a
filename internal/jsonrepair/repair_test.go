package jsonrepair

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/docgraph/internal/graph"
)

func names(g graph.Graph) []string {
	var out []string
	for _, n := range g.Nodes {
		out = append(out, n.Name())
	}
	return out
}

func propKeys(p *graph.Properties) []string {
	var out []string
	for pair := p.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key)
	}
	return out
}

func TestRepair_ValidInputUnchanged(t *testing.T) {
	valid := `{"entities":[{"id":"n1","type":"Person","properties":{"name":"Kim","age":30}}],"relationships":[{"source":"n1","target":"n1","type":"SELF","properties":{}}]}`
	assert.Equal(t, valid, Repair(valid))

	g := Parse(valid)
	require.Len(t, g.Nodes, 1)
	require.Len(t, g.Edges, 1)
	assert.Equal(t, "n1", g.Nodes[0].ID)
	assert.Equal(t, "Person", g.Nodes[0].Type)
	assert.Equal(t, []string{"name", "age"}, propKeys(g.Nodes[0].Properties))
	assert.Equal(t, "SELF", g.Edges[0].Type)
}

func TestParse_Repairs(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantNames []string
		wantEdges int
	}{
		{
			name:      "fenced block with prose",
			raw:       "Here is the result:\n```json\n{\"entities\":[{\"id\":\"n1\",\"type\":\"X\",\"properties\":{\"name\":\"A\"}}]}\n```\nHope this helps",
			wantNames: []string{"A"},
		},
		{
			name: "comments",
			raw: `{
  // entities first
  "entities": [ /* one */ {"id":"n1","type":"X","properties":{"name":"http://a.b"}} ]
}`,
			wantNames: []string{"http://a.b"},
		},
		{
			name:      "early closed array",
			raw:       `{"entities":[{"id":"n1","type":"P","properties":{"name":"A"}}],{"id":"n2","type":"P","properties":{"name":"B"}}],"relationships":[]}`,
			wantNames: []string{"A", "B"},
		},
		{
			name:      "flat entity shape",
			raw:       `{"entities":[{"id":"n1","type":"Person","name":"Kim"}]}`,
			wantNames: []string{"Kim"},
		},
		{
			name:      "trailing commas",
			raw:       `{"entities":[{"id":"n1","type":"X","properties":{"name":"a",},},],}`,
			wantNames: []string{"a"},
		},
		{
			name:      "control characters in strings",
			raw:       "{\"entities\":[{\"id\":\"n1\",\"type\":\"Note\",\"properties\":{\"name\":\"line1\nline2\"}}]}",
			wantNames: []string{"line1\nline2"},
		},
		{
			name:      "invalid escapes",
			raw:       `{"entities":[{"id":"n1","type":"X","properties":{"name":"it\'s \q"}}]}`,
			wantNames: []string{"it's q"},
		},
		{
			name:      "truncated inside a key",
			raw:       `{"entities":[{"id":"n1","type":"A","properties":{"name":"x"}},{"id":"n2","ty`,
			wantNames: []string{"x"},
		},
		{
			name:      "truncated inside a value",
			raw:       `{"entities":[{"id":"n1","type":"Person","properties":{"name":"Kim Min`,
			wantNames: []string{"Kim Min"},
		},
		{
			name:      "truncated after a colon",
			raw:       `{"entities":[{"id":"n1","type":"A","properties":{"name":"x"}},{"id":"n2","type":`,
			wantNames: []string{"x"},
		},
		{
			name:      "extra closers",
			raw:       `{"entities":[{"id":"n1","type":"A","properties":{"name":"x"}}]}}]`,
			wantNames: []string{"x"},
		},
		{
			name:      "top-level array",
			raw:       `[{"id":"n1","type":"X","name":"A"},{"from":"n1","to":"n1","relation":"knows"}]`,
			wantNames: []string{"A"},
			wantEdges: 1,
		},
		{
			name:      "alias keys",
			raw:       `{"nodes":[{"id":1,"label":"Person","name":"A"}],"edges":[{"from":1,"to":2,"label":"KNOWS"}]}`,
			wantNames: []string{"A"},
			wantEdges: 1,
		},
		{
			name:      "wrapped graph",
			raw:       `{"graph":{"entities":[{"id":"n1","type":"X","properties":{"name":"A"}}]}}`,
			wantNames: []string{"A"},
		},
		{
			name:      "everything at once",
			raw:       "```json\n{\"entities\": [\n  {\"id\": \"n1\", \"type\": \"P\", \"properties\": {\"name\": \"A\",}}, // first\n  {\"id\": \"n2\", \"type\": \"P\", \"properties\": {\"name\": \"B\"}},\n  {\"id\": \"n3\", \"typ",
			wantNames: []string{"A", "B"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := Decode(tt.raw)
			require.NoError(t, err, "repaired: %s", Repair(tt.raw))
			assert.Equal(t, tt.wantNames, names(g))
			assert.Len(t, g.Edges, tt.wantEdges)
		})
	}
}

func TestParse_LenientSyntax(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"single quotes", `{'entities': [{'id': 'n1', 'type': 'Person', 'properties': {'name': 'Kim'}}]}`},
		{"bare keys", `{entities: [{id: "n1", type: "Person", properties: {name: "Kim"}}]}`},
		{"python literals", `{"entities": [{"id": "n1", "type": "Person", "properties": {"name": "Kim", "active": True, "title": None}}]}`},
		{"fenced single quotes", "```json\n{'entities': [{'id': 'n1', 'type': 'Person', 'properties': {'name': 'Kim'}}]}\n```"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := Decode(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, []string{"Kim"}, names(g))
			assert.Equal(t, "Person", g.Nodes[0].Type)
		})
	}

	g := Parse(tests[2].raw)
	require.Len(t, g.Nodes, 1)
	active, _ := g.Nodes[0].Properties.Get("active")
	assert.Equal(t, true, active)
	title, ok := g.Nodes[0].Properties.Get("title")
	assert.True(t, ok)
	assert.Nil(t, title)
}

func TestParse_EmptyValuesBecomeNull(t *testing.T) {
	g := Parse(`{"entities":[{"id":"n1","type":"X","properties":{"name":"a","age": ,"x": }}]}`)
	require.Len(t, g.Nodes, 1)
	v, ok := g.Nodes[0].Properties.Get("age")
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestParse_StrayFieldsMoveIntoProperties(t *testing.T) {
	g := Parse(`{"entities":[{"id":"n1","type":"Person","properties":{"age":3},"name":"Kim","role":"CEO"}]}`)
	require.Len(t, g.Nodes, 1)
	assert.Equal(t, "Kim", g.Nodes[0].Name())
	assert.Equal(t, []string{"age", "name", "role"}, propKeys(g.Nodes[0].Properties))
}

func TestParse_EdgeInsideEntityList(t *testing.T) {
	g := Parse(`{"entities":[{"id":"n1","type":"A","properties":{"name":"x"}},{"source":"n1","target":"n1","type":"SELF"}]}`)
	assert.Len(t, g.Nodes, 1)
	assert.Len(t, g.Edges, 1)
}

func TestParse_GarbageYieldsEmptyGraph(t *testing.T) {
	for _, raw := range []string{"", "I could not find any entities.", "{{{{", `"just a string"`, "]]]", `{"entities": "none"}`} {
		g := Parse(raw)
		assert.NotNil(t, g.Nodes, raw)
		assert.Empty(t, g.Nodes, raw)
	}
	_, err := Decode("no json here")
	assert.ErrorIs(t, err, ErrNoPayload)
}

func TestStages(t *testing.T) {
	tests := []struct {
		name string
		fn   func(string) string
		in   string
		want string
	}{
		{"payload span", extractPayload, `noise {"a":1} tail`, `{"a":1}`},
		{"payload truncated", extractPayload, `noise {"a":[1,`, `{"a":[1,`},
		{"payload array", extractPayload, `x [ {"a":1} ] y`, `[ {"a":1} ]`},
		{"prose bracket ignored", extractPayload, `see [1] then {"a":1}`, `{"a":1}`},
		{"line comment", stripComments, "{\"a\":1 // c\n}", "{\"a\":1 \n}"},
		{"block comment", stripComments, `{"a":/* c */1}`, `{"a":1}`},
		{"comment marker in string", stripComments, `{"a":"//x"}`, `{"a":"//x"}`},
		{"trailing comma", stripTrailingCommas, `[1,2, ]`, `[1,2 ]`},
		{"comma in string kept", stripTrailingCommas, `["a,]"]`, `["a,]"]`},
		{"empty value", fillEmptyValues, `{"a": ,"b":}`, `{"a": null,"b": null}`},
		{"close nested", closeBrackets, `{"a":[{"b":1`, `{"a":[{"b":1}]}`},
		{"close string", closeBrackets, `{"a":"x`, `{"a":"x"}`},
		{"close dangling key", closeBrackets, `{"a`, `{"a": null}`},
		{"close after colon", closeBrackets, `{"a":`, `{"a": null}`},
		{"close trailing comma", closeBrackets, `[1,2,`, `[1,2]`},
		{"unicode escape kept", removeInvalidEscapes, `"é\x"`, `"éx"`},
		{"tab escaped", escapeControlChars, "\"a\tb\"", `"a\tb"`},
		{"dangling literal", truncateDangling, `[1,tru`, `[1`},
		{"complete item kept", truncateDangling, `[{"a":1}`, `[{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.fn(tt.in))
		})
	}
}

func FuzzParse(f *testing.F) {
	f.Add(`{"entities":[{"id":"n1","type":"X","properties":{"name":"A"}}]}`)
	f.Add("```json\n{\"entities\":[")
	f.Add(`[{"\`)
	f.Add(`{"a":"\u12`)
	f.Add(`}{][`)
	f.Fuzz(func(t *testing.T, raw string) {
		g := Parse(raw)
		if g.Nodes == nil || g.Edges == nil {
			t.Fatalf("nil slices for %q", raw)
		}
	})
}

func TestParse_FencedTrailingComma(t *testing.T) {
	raw := "```json\n{\"entities\": [{\"id\":\"n1\",\"type\":\"Person\",\"properties\":{\"name\":\"Kim\"}},]}\n```"
	g := Parse(raw)
	require.Len(t, g.Nodes, 1)
	assert.Equal(t, "n1", g.Nodes[0].ID)
	assert.Equal(t, "Person", g.Nodes[0].Type)
	assert.Equal(t, []string{"Kim"}, names(g))
	assert.NotContains(t, Repair(raw), ",]")
}
