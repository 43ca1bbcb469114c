package navigation

import (
	"context"
	"testing"

	"devlog-server/internal/domain"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestResolve(t *testing.T) {
	cases := map[string]domain.Area{
		"":                             domain.AreaMain,
		"/":                            domain.AreaMain,
		"/project/3":                   domain.AreaProject,
		"/project/3/diary/new":         domain.AreaDiaryCreate,
		"/project/3/activity/extract/": domain.AreaActivityExtract,
		"/activity":                    domain.AreaActivity,
		"/activity/12?tab=detail":      domain.AreaActivity,
		"/my":                          domain.AreaProfile,
		"/login":                       domain.AreaUnknown,
	}
	for path, want := range cases {
		assert.Equal(t, want, Resolve(path), path)
	}
}

func TestBus_NotifiesOnLeaveOnly(t *testing.T) {
	bus := NewBus(zap.NewNop())
	var left []string
	bus.OnLeave(domain.AreaActivity, func(_ context.Context, userID string, area domain.Area) {
		left = append(left, userID+":"+string(area))
	})
	ctx := context.Background()

	bus.Navigate(ctx, "u1", "/activity")
	bus.Navigate(ctx, "u1", "/activity/5")
	assert.Empty(t, left, "moving inside the area is not leaving it")

	bus.Navigate(ctx, "u1", "/project/1")
	assert.Equal(t, []string{"u1:activity"}, left)

	bus.Navigate(ctx, "u2", "/project/1")
	assert.Len(t, left, 1, "first navigation of a user has nothing to leave")

	area, ok := bus.Current("u1")
	assert.True(t, ok)
	assert.Equal(t, domain.AreaProject, area)

	bus.Forget("u1")
	_, ok = bus.Current("u1")
	assert.False(t, ok)
}
