package interfaces_test

import (
	"context"
	"testing"

	"classlobby/pkg/interfaces"
	"classlobby/pkg/types"
)

type mockConnection struct{}

func (m *mockConnection) ID() string                    { return "" }
func (m *mockConnection) WriteJSON(v interface{}) error { return nil }
func (m *mockConnection) Close() error                  { return nil }

type mockChatLog struct{}

func (m *mockChatLog) AppendMessage(ctx context.Context, message *types.ChatMessage) error {
	return nil
}
func (m *mockChatLog) RoomHistory(ctx context.Context, room string, limit int) ([]*types.ChatMessage, error) {
	return nil, nil
}
func (m *mockChatLog) HealthCheck(ctx context.Context) error { return nil }
func (m *mockChatLog) Close() error                          { return nil }

func TestConnection_InterfaceContract(t *testing.T) {
	var conn interfaces.Connection = &mockConnection{}

	_ = conn.ID()
	_ = conn.WriteJSON(struct{}{})
	_ = conn.Close()
}

func TestChatLog_InterfaceContract(t *testing.T) {
	var log interfaces.ChatLog = &mockChatLog{}
	ctx := context.Background()

	_ = log.AppendMessage(ctx, &types.ChatMessage{})
	_, _ = log.RoomHistory(ctx, "room", 100)
	_ = log.HealthCheck(ctx)
	_ = log.Close()
}
