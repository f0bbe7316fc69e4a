package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlasapi/atlas-deer-sub000/pkg/deer/config"
)

type cli struct {
	t   *testing.T
	dir string
}

func newCLI(t *testing.T) *cli {
	return &cli{t: t, dir: t.TempDir()}
}

func (c *cli) run(stdin string, args ...string) (string, error) {
	c.t.Helper()
	cmd := newRootCommand(
		config.WithBadgerDir(filepath.Join(c.dir, "db")),
		config.WithMessaging(config.MessagingNone),
	)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--env-file", filepath.Join(c.dir, "missing.env")}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (c *cli) mustRun(stdin string, args ...string) string {
	c.t.Helper()
	out, err := c.run(stdin, args...)
	require.NoError(c.t, err, out)
	return out
}

func (c *cli) file(name, content string) string {
	c.t.Helper()
	path := filepath.Join(c.dir, name)
	require.NoError(c.t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestCLI_WriteAndResolve(t *testing.T) {
	c := newCLI(t)
	assert.Contains(t, c.mustRun("", "migrate"), "Schema up to date")

	docs := c.file("content.json", `[
		{"type":"brand","content":{"source":"bbc.co.uk","title":"Brand"}},
		{"type":"film","content":{"source":"pa","title":"Film","aliases":[{"namespace":"pa:film","value":"1"}]}}
	]`)
	var written []writeOutput
	require.NoError(t, json.Unmarshal([]byte(c.mustRun("", "write", docs)), &written))
	require.Len(t, written, 2)
	assert.True(t, written[0].Written)
	assert.Equal(t, "brand", string(written[0].Type))
	brandID, filmID := written[0].ID, written[1].ID

	var again []writeOutput
	require.NoError(t, json.Unmarshal([]byte(c.mustRun("", "write", docs)), &again))
	assert.False(t, again[1].Written, "film matched by alias and unchanged")
	assert.True(t, again[1].Previous)
	assert.Equal(t, filmID, again[1].ID)

	episode := `{"type":"episode","content":{"source":"bbc.co.uk","title":"Ep","container_ref":{"id":` + brandID.String() + `,"source":"bbc.co.uk","type":"brand"}}}`
	var ep []writeOutput
	require.NoError(t, json.Unmarshal([]byte(c.mustRun(episode, "write", "-")), &ep))
	require.Len(t, ep, 1)
	episodeID := ep[0].ID

	_, err := c.run("", "resolve", filmID.String())
	assert.ErrorContains(t, err, "content not found", "not materialized yet")

	out := c.mustRun("", "update-content", brandID.String(), filmID.String(), episodeID.String())
	assert.Contains(t, out, "Updated "+filmID.String())

	update := c.file("graph.json", `{"updated":{"id":`+filmID.String()+`,"members":[`+filmID.String()+`,`+episodeID.String()+`]},"deleted":[`+episodeID.String()+`]}`)
	assert.Contains(t, c.mustRun("", "update-equivalences", update), "Updated graph "+filmID.String())

	var sets map[string]resolvedSet
	require.NoError(t, json.Unmarshal([]byte(c.mustRun("", "resolve", episodeID.String(), "--source", "pa")), &sets))
	require.Contains(t, sets, episodeID.String())
	assert.Equal(t, filmID, sets[episodeID.String()].SetID)
	require.Len(t, sets[episodeID.String()].Content, 1)
	assert.Equal(t, "film", string(sets[episodeID.String()].Content[0].Type))

	require.NoError(t, json.Unmarshal([]byte(c.mustRun("", "resolve", brandID.String(), "--annotation", "upcoming_content")), &sets))
	require.Len(t, sets[brandID.String()].Content, 1)
	assert.NotContains(t, string(sets[brandID.String()].Content[0].Content), "item_summaries")
	assert.Contains(t, string(sets[brandID.String()].Content[0].Content), "item_refs")
}

func TestCLI_WriteBroadcast(t *testing.T) {
	c := newCLI(t)
	var written []writeOutput
	require.NoError(t, json.Unmarshal([]byte(c.mustRun(`{"type":"film","content":{"source":"pa","title":"Film"}}`, "write", "-")), &written))
	id := written[0].ID.String()

	input := `{"item":{"id":` + id + `,"source":"pa","type":"film"},"broadcast":{"source_id":"b1","channel_id":1,"transmission_time":"2030-01-01T20:00:00Z","transmission_end_time":"2030-01-01T21:00:00Z"}}`
	assert.Contains(t, c.mustRun(input, "write-broadcast", "-"), "Wrote broadcast b1 on "+id)

	_, err := c.run(`{"item":{"id":999,"type":"film"},"broadcast":{"source_id":"b"}}`, "write-broadcast", "-")
	assert.ErrorContains(t, err, "missing film 999")
}

func TestCLI_Errors(t *testing.T) {
	c := newCLI(t)
	tests := []struct {
		name  string
		stdin string
		args  []string
		want  string
	}{
		{"missing file", "", []string{"write", filepath.Join(c.dir, "nope.json")}, "read"},
		{"bad document", `{"type":"podcast"}`, []string{"write", "-"}, "unknown content type"},
		{"bad id", "", []string{"resolve", "abc"}, `invalid id "abc"`},
		{"unknown content", "", []string{"update-content", "12345"}, "content not found"},
		{"bad graph update", "{", []string{"update-equivalences", "-"}, "parse graph update"},
		{"missing container", `{"type":"item","content":{"source":"s","container_ref":{"id":77}}}`, []string{"write", "-"}, "missing resource 77"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.run(tt.stdin, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
