package actor

// testMsg is a minimal message type shared by tests that only need a
// string payload and don't care about its contents.
type testMsg struct {
	BaseMessage
	content string
}

func (m *testMsg) MessageType() string {
	return "testMsg"
}

// newTestMsg builds a testMsg carrying content.
func newTestMsg(content string) *testMsg {
	return &testMsg{content: content}
}
