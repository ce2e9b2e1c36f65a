package llmws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclewu3242592726/CosTalk/callbridge/internal/config"
	"github.com/unclewu3242592726/CosTalk/callbridge/internal/svc"
	"github.com/unclewu3242592726/CosTalk/callbridge/pkg/agentstore"
	"github.com/unclewu3242592726/CosTalk/callbridge/pkg/model"
	"github.com/unclewu3242592726/CosTalk/callbridge/pkg/protocol"
	"github.com/unclewu3242592726/CosTalk/callbridge/pkg/provider"
)

// reply 描述 fakeLLM 对某条最后消息的回复方式
type reply struct {
	chunks   []string
	err      error
	startErr error
	block    bool // 输出完 chunks 后一直等到被取消
}

type fakeLLM struct {
	mu       sync.Mutex
	replies  map[string]reply
	fallback reply
	requests []*provider.ChatRequest
	contexts []context.Context
}

func (f *fakeLLM) Name() string { return "fake" }

func (f *fakeLLM) ChatStream(ctx context.Context, req *provider.ChatRequest) (<-chan *provider.ChatDelta, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.contexts = append(f.contexts, ctx)
	r, ok := f.replies[req.Messages[len(req.Messages)-1].Content]
	if !ok {
		r = f.fallback
	}
	f.mu.Unlock()

	if r.startErr != nil {
		return nil, r.startErr
	}

	out := make(chan *provider.ChatDelta)
	go func() {
		defer close(out)
		for _, c := range r.chunks {
			select {
			case out <- &provider.ChatDelta{Text: c}:
			case <-ctx.Done():
				return
			}
		}
		if r.err != nil {
			select {
			case out <- &provider.ChatDelta{Err: r.err}:
			case <-ctx.Done():
			}
			return
		}
		if r.block {
			<-ctx.Done()
		}
	}()
	return out, nil
}

func (f *fakeLLM) lastRequest() *provider.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return nil
	}
	return f.requests[len(f.requests)-1]
}

func (f *fakeLLM) lastContext() context.Context {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.contexts) == 0 {
		return nil
	}
	return f.contexts[len(f.contexts)-1]
}

type fakeRetriever struct {
	mu      sync.Mutex
	queries []string
}

func (r *fakeRetriever) Retrieve(_ context.Context, knowledgeBaseID, query string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries = append(r.queries, query)
	if knowledgeBaseID == "" {
		return ""
	}
	return "Opening hours are 9am to 5pm."
}

type failingLoader struct {
	err error
}

func (l failingLoader) Load(context.Context, string) (*model.AgentConfig, error) {
	return nil, l.err
}

func testConfig() config.Config {
	var c config.Config
	c.Features = config.FeatureConfig{TurnTakingPromotion: true, HangupDetection: true}
	c.Session = config.SessionConfig{
		WriteTimeout:   2 * time.Second,
		MaxMessageSize: 1 << 20,
	}
	return c
}

func newTestServiceContext(llm *fakeLLM, agents agentstore.Loader) *svc.ServiceContext {
	registry := provider.NewRegistry()
	registry.RegisterLLM("fake", llm)
	return &svc.ServiceContext{
		Config:    testConfig(),
		Registry:  registry,
		Agents:    agents,
		Retriever: &fakeRetriever{},
	}
}

func defaultAgents() agentstore.Loader {
	return agentstore.NewStaticLoader([]model.AgentConfig{{
		ID:              "agent-1",
		SystemPrompt:    "You book dentist appointments.",
		Greeting:        "Hi, this is the dental office.",
		Provider:        "fake",
		Model:           "fake-model",
		KnowledgeBaseID: "kb-1",
		HangupPhrases:   []string{"goodbye"},
	}})
}

func startServer(t *testing.T, svcCtx *svc.ServiceContext) *httptest.Server {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		target := CallTarget{CallID: "call-1", AgentID: r.URL.Query().Get("agent_id")}
		NewLlmWebsocketLogic(context.WithoutCancel(r.Context()), svcCtx).HandleWebSocket(conn, target)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, agentID string) *websocket.Conn {
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/llm-websocket/call-1"
	if agentID != "" {
		u += "?agent_id=" + agentID
	}
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// dialReady 连接并读掉 config 帧和开场白
func dialReady(t *testing.T, srv *httptest.Server) *websocket.Conn {
	conn := dial(t, srv, "agent-1")
	var cfg map[string]any
	require.NoError(t, conn.ReadJSON(&cfg))
	require.Equal(t, "config", cfg["response_type"])
	greeting := readResponse(t, conn)
	require.Equal(t, int64(0), greeting.ResponseID)
	return conn
}

func send(t *testing.T, conn *websocket.Conn, frame string) {
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func responseRequired(id int64, userText string) string {
	return fmt.Sprintf(`{"interaction_type":"response_required","response_id":%d,"transcript":[`+
		`{"role":"agent","content":"Hi, this is the dental office."},{"role":"user","content":%q}]}`, id, userText)
}

func readResponse(t *testing.T, conn *websocket.Conn) protocol.ResponseFrame {
	var f protocol.ResponseFrame
	require.NoError(t, conn.ReadJSON(&f))
	require.Equal(t, protocol.ResponseTypeResponse, f.ResponseType)
	return f
}

// readUntilComplete 读取帧直到 responseID 的结束帧
func readUntilComplete(t *testing.T, conn *websocket.Conn, responseID int64) []protocol.ResponseFrame {
	var frames []protocol.ResponseFrame
	for {
		f := readResponse(t, conn)
		frames = append(frames, f)
		if f.ResponseID == responseID && f.ContentComplete {
			return frames
		}
	}
}

func expectClose(t *testing.T, conn *websocket.Conn, code int) {
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var closeErr *websocket.CloseError
		require.ErrorAs(t, err, &closeErr)
		assert.Equal(t, code, closeErr.Code)
		return
	}
}

func TestHandshakeSendsConfigThenGreeting(t *testing.T) {
	srv := startServer(t, newTestServiceContext(&fakeLLM{}, defaultAgents()))
	conn := dial(t, srv, "agent-1")

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"response_type":"config","config":{"auto_reconnect":false,"call_details":false}}`, string(data))

	_, data, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"response_type":"response","response_id":0,"content":"Hi, this is the dental office.",`+
		`"content_complete":true,"end_call":false}`, string(data))
}

func TestPingPongEchoesTimestamp(t *testing.T) {
	srv := startServer(t, newTestServiceContext(&fakeLLM{}, defaultAgents()))
	conn := dialReady(t, srv)

	send(t, conn, `{"interaction_type":"ping_pong","timestamp":1700000000123}`)
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"response_type":"ping_pong","timestamp":1700000000123}`, string(data))
}

func TestResponseStreamsFragmentsAndCompletes(t *testing.T) {
	llm := &fakeLLM{replies: map[string]reply{
		"When are you open?": {chunks: []string{"We are open ", "nine to five."}},
	}}
	svcCtx := newTestServiceContext(llm, defaultAgents())
	srv := startServer(t, svcCtx)
	conn := dialReady(t, srv)

	send(t, conn, responseRequired(1, "When are you open?"))
	frames := readUntilComplete(t, conn, 1)
	require.Len(t, frames, 3)
	assert.Equal(t, "We are open ", frames[0].Content)
	assert.False(t, frames[0].ContentComplete)
	assert.Equal(t, "nine to five.", frames[1].Content)
	assert.Equal(t, "", frames[2].Content)
	assert.True(t, frames[2].ContentComplete)
	assert.False(t, frames[2].EndCall)

	req := llm.lastRequest()
	require.NotNil(t, req)
	assert.Equal(t, "fake-model", req.Model)
	require.Len(t, req.Messages, 3)
	assert.Equal(t, model.RoleSystem, req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "You book dentist appointments.")
	assert.Contains(t, req.Messages[0].Content, "Opening hours are 9am to 5pm.")
	assert.Equal(t, model.RoleAssistant, req.Messages[1].Role)
	assert.Equal(t, model.RoleUser, req.Messages[2].Role)

	retriever := svcCtx.Retriever.(*fakeRetriever)
	retriever.mu.Lock()
	assert.Equal(t, []string{"When are you open?"}, retriever.queries)
	retriever.mu.Unlock()
}

func TestHangupPhraseSetsEndCall(t *testing.T) {
	llm := &fakeLLM{fallback: reply{chunks: []string{"Good", "bye"}}}
	srv := startServer(t, newTestServiceContext(llm, defaultAgents()))
	conn := dialReady(t, srv)

	send(t, conn, responseRequired(2, "That's all, thanks."))
	frames := readUntilComplete(t, conn, 2)
	require.Len(t, frames, 3)
	assert.True(t, frames[2].EndCall)
}

func TestHangupDetectionCanBeDisabled(t *testing.T) {
	llm := &fakeLLM{fallback: reply{chunks: []string{"Goodbye!"}}}
	svcCtx := newTestServiceContext(llm, defaultAgents())
	svcCtx.Config.Features.HangupDetection = false
	srv := startServer(t, svcCtx)
	conn := dialReady(t, srv)

	send(t, conn, responseRequired(1, "bye"))
	frames := readUntilComplete(t, conn, 1)
	assert.False(t, frames[len(frames)-1].EndCall)
}

func TestProviderErrorSendsSingleApology(t *testing.T) {
	llm := &fakeLLM{fallback: reply{err: errors.New("upstream status 500: internal key sk-123")}}
	srv := startServer(t, newTestServiceContext(llm, defaultAgents()))
	conn := dialReady(t, srv)

	send(t, conn, responseRequired(3, "Hello?"))
	frames := readUntilComplete(t, conn, 3)
	require.Len(t, frames, 1)
	assert.Equal(t, ApologyMessage, frames[0].Content)
	assert.False(t, frames[0].EndCall)
	assert.NotContains(t, frames[0].Content, "sk-123")

	// 会话继续可用
	send(t, conn, `{"interaction_type":"ping_pong","timestamp":42}`)
	var pong protocol.PingPongFrame
	require.NoError(t, conn.ReadJSON(&pong))
	assert.Equal(t, "42", pong.Timestamp.String())
}

func TestProviderStartErrorSendsApology(t *testing.T) {
	llm := &fakeLLM{fallback: reply{startErr: provider.ErrMissingCredential}}
	srv := startServer(t, newTestServiceContext(llm, defaultAgents()))
	conn := dialReady(t, srv)

	send(t, conn, responseRequired(1, "Hello?"))
	frames := readUntilComplete(t, conn, 1)
	require.Len(t, frames, 1)
	assert.Equal(t, ApologyMessage, frames[0].Content)
}

func TestNewResponseSupersedesInFlight(t *testing.T) {
	llm := &fakeLLM{replies: map[string]reply{
		"first question":  {chunks: []string{"Let me think"}, block: true},
		"second question": {chunks: []string{"Sure."}},
	}}
	srv := startServer(t, newTestServiceContext(llm, defaultAgents()))
	conn := dialReady(t, srv)

	send(t, conn, responseRequired(5, "first question"))
	first := readResponse(t, conn)
	require.Equal(t, int64(5), first.ResponseID)
	require.False(t, first.ContentComplete)

	send(t, conn, responseRequired(6, "second question"))
	frames := readUntilComplete(t, conn, 6)
	seen6 := false
	for _, f := range frames {
		if f.ResponseID == 6 {
			seen6 = true
			continue
		}
		assert.False(t, seen6, "frame for 5 after 6 started")
		assert.False(t, f.ContentComplete, "superseded response must not complete")
	}
	last := frames[len(frames)-1]
	assert.Equal(t, int64(6), last.ResponseID)
	assert.True(t, last.ContentComplete)

	// 5 不会再补发结束帧
	send(t, conn, `{"interaction_type":"ping_pong","timestamp":7}`)
	var pong protocol.PingPongFrame
	require.NoError(t, conn.ReadJSON(&pong))
	assert.Equal(t, protocol.ResponseTypePingPong, pong.ResponseType)
}

func TestDuplicateResponseIDIgnored(t *testing.T) {
	llm := &fakeLLM{fallback: reply{chunks: []string{"Okay."}}}
	srv := startServer(t, newTestServiceContext(llm, defaultAgents()))
	conn := dialReady(t, srv)

	send(t, conn, responseRequired(2, "Hi"))
	readUntilComplete(t, conn, 2)

	send(t, conn, responseRequired(2, "Hi"))
	send(t, conn, `{"interaction_type":"ping_pong","timestamp":1}`)
	var next map[string]any
	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, protocol.ResponseTypePingPong, next["response_type"])
}

func TestReminderAppendsReminderPrompt(t *testing.T) {
	llm := &fakeLLM{fallback: reply{chunks: []string{"Are you still there?"}}}
	srv := startServer(t, newTestServiceContext(llm, defaultAgents()))
	conn := dialReady(t, srv)

	send(t, conn, `{"interaction_type":"reminder_required","response_id":4,"transcript":[{"role":"user","content":"Hmm"}]}`)
	readUntilComplete(t, conn, 4)

	req := llm.lastRequest()
	require.NotNil(t, req)
	last := req.Messages[len(req.Messages)-1]
	assert.Equal(t, model.RoleUser, last.Role)
	assert.Equal(t, model.DefaultReminderPrompt, last.Content)
}

func TestUpdateOnlyPromotion(t *testing.T) {
	llm := &fakeLLM{fallback: reply{chunks: []string{"Go ahead."}}}
	srv := startServer(t, newTestServiceContext(llm, defaultAgents()))
	conn := dialReady(t, srv)

	send(t, conn, `{"interaction_type":"update_only","turntaking":"user_turn","response_id":2,"transcript":[]}`)
	send(t, conn, `{"interaction_type":"update_only","turntaking":"agent_turn","response_id":3,`+
		`"transcript":[{"role":"user","content":"I have a question"}]}`)
	frames := readUntilComplete(t, conn, 3)
	assert.Equal(t, "Go ahead.", frames[0].Content)
	for _, f := range frames {
		assert.Equal(t, int64(3), f.ResponseID)
	}
}

func TestUpdateOnlyPromotionDisabled(t *testing.T) {
	llm := &fakeLLM{fallback: reply{chunks: []string{"Go ahead."}}}
	svcCtx := newTestServiceContext(llm, defaultAgents())
	svcCtx.Config.Features.TurnTakingPromotion = false
	srv := startServer(t, svcCtx)
	conn := dialReady(t, srv)

	send(t, conn, `{"interaction_type":"update_only","turntaking":"agent_turn","response_id":3,"transcript":[]}`)
	send(t, conn, `{"interaction_type":"ping_pong","timestamp":9}`)
	var next map[string]any
	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, protocol.ResponseTypePingPong, next["response_type"])
}

func TestCallDetailsProducesNoFrame(t *testing.T) {
	srv := startServer(t, newTestServiceContext(&fakeLLM{}, defaultAgents()))
	conn := dialReady(t, srv)

	send(t, conn, `{"interaction_type":"call_details","call":{"call_id":"call-1","from_number":"+15550100"}}`)
	send(t, conn, `{"interaction_type":"ping_pong","timestamp":11}`)
	var next map[string]any
	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, protocol.ResponseTypePingPong, next["response_type"])
}

func TestMissingAgentIDClosesWithPolicyViolation(t *testing.T) {
	srv := startServer(t, newTestServiceContext(&fakeLLM{}, defaultAgents()))
	conn := dial(t, srv, "")

	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr, "no frame may precede the close")
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
}

func TestUnavailableAgentConfigCloses(t *testing.T) {
	cases := map[string]agentstore.Loader{
		"not found":   defaultAgents(),
		"store error": failingLoader{err: errors.New("redis: connection refused")},
	}
	for name, loader := range cases {
		t.Run(name, func(t *testing.T) {
			srv := startServer(t, newTestServiceContext(&fakeLLM{}, loader))
			agentID := "agent-1"
			if name == "not found" {
				agentID = "unknown"
			}
			conn := dial(t, srv, agentID)

			_, _, err := conn.ReadMessage()
			var closeErr *websocket.CloseError
			require.ErrorAs(t, err, &closeErr)
			assert.Equal(t, websocket.CloseInternalServerErr, closeErr.Code)
		})
	}
}

func TestBinaryFrameClosesWithUnsupportedData(t *testing.T) {
	srv := startServer(t, newTestServiceContext(&fakeLLM{}, defaultAgents()))
	conn := dialReady(t, srv)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02}))
	expectClose(t, conn, websocket.CloseUnsupportedData)
}

func TestInvalidFramesCloseWithProtocolError(t *testing.T) {
	frames := map[string]string{
		"malformed json":      `{"interaction_type":`,
		"missing response_id": `{"interaction_type":"response_required","transcript":[]}`,
		"unknown kind":        `{"interaction_type":"dance"}`,
	}
	for name, frame := range frames {
		t.Run(name, func(t *testing.T) {
			srv := startServer(t, newTestServiceContext(&fakeLLM{}, defaultAgents()))
			conn := dialReady(t, srv)

			send(t, conn, frame)
			expectClose(t, conn, websocket.CloseProtocolError)
		})
	}
}

func TestProtocolErrorCancelsInFlightResponse(t *testing.T) {
	llm := &fakeLLM{fallback: reply{chunks: []string{"Thinking"}, block: true}}
	srv := startServer(t, newTestServiceContext(llm, defaultAgents()))
	conn := dialReady(t, srv)

	send(t, conn, responseRequired(1, "question"))
	f := readResponse(t, conn)
	require.False(t, f.ContentComplete)

	send(t, conn, `not json`)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			require.ErrorAs(t, err, &closeErr)
			assert.Equal(t, websocket.CloseProtocolError, closeErr.Code)
			return
		}
		var frame protocol.ResponseFrame
		require.NoError(t, json.Unmarshal(data, &frame))
		assert.False(t, frame.ContentComplete)
	}
}

func TestRemoteCloseCancelsGeneration(t *testing.T) {
	llm := &fakeLLM{fallback: reply{chunks: []string{"Let me check"}, block: true}}
	srv := startServer(t, newTestServiceContext(llm, defaultAgents()))
	conn := dialReady(t, srv)

	send(t, conn, responseRequired(1, "Can you look that up?"))
	f := readResponse(t, conn)
	require.False(t, f.ContentComplete)

	streamCtx := llm.lastContext()
	require.NotNil(t, streamCtx)
	require.NoError(t, streamCtx.Err())

	// 对端挂断，生成必须被取消
	require.NoError(t, conn.Close())
	select {
	case <-streamCtx.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("provider stream still running after the caller hung up")
	}
}
