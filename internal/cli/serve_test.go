package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/rcliao/agent-recall/internal/engine"
)

func TestMain(m *testing.M) {
	// The embedding cache links glog, whose flush daemon runs for the life
	// of the process.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("github.com/golang/glog.(*fileSink).flushDaemon"))
}

type echoHandler struct {
	mu   sync.Mutex
	seen map[string][]string
}

func (h *echoHandler) Handle(ctx context.Context, in engine.Input) (*engine.Reply, error) {
	if strings.TrimSpace(in.Text) == "" {
		return nil, engine.ErrEmptyUtterance
	}
	// Early turns are slower so a reordering lane would show up.
	if strings.HasSuffix(in.Text, "1") {
		time.Sleep(20 * time.Millisecond)
	}
	h.mu.Lock()
	if h.seen == nil {
		h.seen = make(map[string][]string)
	}
	h.seen[in.SessionID] = append(h.seen[in.SessionID], in.Text)
	h.mu.Unlock()
	return &engine.Reply{SessionID: in.SessionID, Text: "re: " + in.Text, Mode: "full"}, nil
}

func decodeLines(t *testing.T, out *bytes.Buffer) []map[string]any {
	t.Helper()
	var res []map[string]any
	sc := bufio.NewScanner(out)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		res = append(res, m)
	}
	return res
}

func TestServeLinesKeepsSessionOrder(t *testing.T) {
	in := strings.Join([]string{
		`{"id":"1","session_id":"a","text":"a1"}`,
		`{"id":"2","session_id":"b","text":"b1"}`,
		`{"id":"3","session_id":"a","text":"a2"}`,
		`{"id":"4","session_id":"a","text":"a3"}`,
		`{"id":"5","session_id":"b","text":"b2"}`,
	}, "\n")
	h := &echoHandler{}
	var out bytes.Buffer
	require.NoError(t, serveLines(context.Background(), strings.NewReader(in), &out, h, "default"))

	assert.Equal(t, []string{"a1", "a2", "a3"}, h.seen["a"])
	assert.Equal(t, []string{"b1", "b2"}, h.seen["b"])

	lines := decodeLines(t, &out)
	require.Len(t, lines, 5)
	var aOrder []string
	for _, l := range lines {
		if l["session_id"] == "a" {
			aOrder = append(aOrder, l["text"].(string))
		}
	}
	assert.Equal(t, []string{"re: a1", "re: a2", "re: a3"}, aOrder)
}

func TestServeLinesDefaultsAndErrors(t *testing.T) {
	in := "\n" + `not json` + "\n" + `{"id":"x","text":"hello"}` + "\n" + `{"id":"y","text":"  "}` + "\n"
	h := &echoHandler{}
	var out bytes.Buffer
	require.NoError(t, serveLines(context.Background(), strings.NewReader(in), &out, h, "kiosk"))

	lines := decodeLines(t, &out)
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0]["error"], "parse request")

	byID := map[string]map[string]any{}
	for _, l := range lines[1:] {
		byID[l["id"].(string)] = l
	}
	assert.Equal(t, "kiosk", byID["x"]["session_id"])
	assert.Equal(t, "re: hello", byID["x"]["text"])
	assert.Equal(t, engine.ErrEmptyUtterance.Error(), byID["y"]["error"])
	assert.NotContains(t, byID["y"], "text", "failed turns carry no reply")
}

func TestServeLinesCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := &echoHandler{}
	var out bytes.Buffer
	err := serveLines(ctx, strings.NewReader(`{"text":"hi"}`), &out, h, "s")
	// Either the request was refused at the lane or the lane saw the
	// cancelled context; nothing may hang.
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}
}
