package storagemock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/wattflow/wattflow/pkg/storage"
	"github.com/wattflow/wattflow/pkg/types"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) PutSnapshot(ctx context.Context, cardID string, s types.States) error {
	args := m.Called(ctx, cardID, s)
	return args.Error(0)
}

func (m *MockDatabase) GetSnapshot(ctx context.Context, cardID string) (types.States, error) {
	args := m.Called(ctx, cardID)
	if len(args) > 0 {
		return args.Get(0).(types.States), args.Error(1)
	}
	return types.States{}, storage.ErrSnapshotNotFound
}

func (m *MockDatabase) ListCards(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if ids := args.Get(0); ids != nil {
		return ids.([]string), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDatabase) Close() error {
	return nil
}
