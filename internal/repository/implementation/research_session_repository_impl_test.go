package implementation

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"testing"

	"podcast-research-sync/internal/entity"
	"podcast-research-sync/internal/model"
	"podcast-research-sync/internal/repository/contract"
	"podcast-research-sync/pkg/database"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResearchSessionRepositoryPostgres(t *testing.T) {
	dsn := os.Getenv("DB_CONNECTION_STRING")
	if dsn == "" {
		t.Skip("DB_CONNECTION_STRING not set")
	}

	db, err := database.NewGormDBFromDSN(dsn, false)
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.ResearchSession{}, &model.ResearchShare{}))

	repo := NewResearchSessionRepository(db)
	ctx := context.Background()
	clientId := "client-" + uuid.NewString()

	session := &entity.RemoteSession{
		Id:          uuid.NewString(),
		OwnerType:   entity.OwnerTypeClient,
		OwnerId:     clientId,
		PineconeIds: []string{"ep1_p3"},
		Items:       []entity.SessionItem{{Id: "ep1_p3", Metadata: entity.ItemMetadata{Title: "T"}}},
		Version:     1,
	}
	require.NoError(t, repo.Create(ctx, session))
	defer db.Delete(&model.ResearchSession{}, "id = ?", session.Id)

	v := 1
	session.PineconeIds = []string{"ep1_p3", "ep1_p4"}
	require.NoError(t, repo.Update(ctx, session, &v))
	assert.Equal(t, 2, session.Version)
	assert.Equal(t, []string{"ep1_p3", "ep1_p4"}, session.PineconeIds)

	assert.ErrorIs(t, repo.Update(ctx, session, &v), contract.ErrVersionMismatch)

	moved, err := repo.TransferOwnership(ctx, clientId, "user-"+clientId)
	require.NoError(t, err)
	assert.Equal(t, int64(1), moved)

	owned, err := repo.FindByOwner(ctx, entity.OwnerTypeUser, "user-"+clientId)
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.Equal(t, session.Id, owned[0].Id)
}

func TestResearchSessionRepositoryConcurrentUpdatesReturnOwnVersion(t *testing.T) {
	dsn := os.Getenv("DB_CONNECTION_STRING")
	if dsn == "" {
		t.Skip("DB_CONNECTION_STRING not set")
	}

	db, err := database.NewGormDBFromDSN(dsn, false)
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.ResearchSession{}, &model.ResearchShare{}))

	repo := NewResearchSessionRepository(db)
	ctx := context.Background()

	session := &entity.RemoteSession{
		Id:          uuid.NewString(),
		OwnerType:   entity.OwnerTypeClient,
		OwnerId:     "client-" + uuid.NewString(),
		PineconeIds: []string{"ep1_p3"},
		Items:       []entity.SessionItem{{Id: "ep1_p3"}},
		Version:     1,
	}
	require.NoError(t, repo.Create(ctx, session))
	defer db.Delete(&model.ResearchSession{}, "id = ?", session.Id)

	const writers = 8
	versions := make([]int, writers)
	errs := make([]error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := *session
			s.PineconeIds = []string{fmt.Sprintf("ep%d_p1", i)}
			errs[i] = repo.Update(ctx, &s, nil)
			versions[i] = s.Version
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	sort.Ints(versions)
	for i, v := range versions {
		assert.Equal(t, i+2, v)
	}
}
