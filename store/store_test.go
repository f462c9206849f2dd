package store

import (
	"path/filepath"
	"testing"
	"time"

	"coins-bot/model"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "coins.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

// at pins the store clock to a fixed instant.
func at(s *Store, ts time.Time) {
	s.now = func() time.Time { return ts }
}

func TestUserLifecycle(t *testing.T) {
	s := newTestStore(t)

	exists, err := s.UserExists(42)
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, s.CreateUser(42))

	exists, err = s.UserExists(42)
	require.NoError(t, err)
	require.True(t, exists)

	coins, err := s.Balance(42)
	require.NoError(t, err)
	require.Equal(t, 10.0, coins)
}

func TestCreateUserDuplicate(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.CreateUser(1))
	require.Error(t, s.CreateUser(1))
}

func TestTouchActivityCreatesAndRefreshes(t *testing.T) {
	s := newTestStore(t)

	first := time.Date(2024, 5, 10, 12, 0, 0, 0, time.Local)
	at(s, first)
	require.NoError(t, s.TouchActivity(7))

	exists, err := s.UserExists(7)
	require.NoError(t, err)
	require.True(t, exists)

	coins, err := s.Balance(7)
	require.NoError(t, err)
	require.Equal(t, 10.0, coins)

	later := first.Add(3 * time.Hour)
	at(s, later)
	require.NoError(t, s.TouchActivity(7))

	var u model.User
	require.NoError(t, s.db.First(&u, "userid = ?", int64(7)).Error)
	require.Equal(t, later.Unix(), u.LastLogin)
}

func TestBalanceMissingUser(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Balance(999)
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)

	require.ErrorIs(t, s.AdjustBalance(999, 1), gorm.ErrRecordNotFound)
}

func TestAdjustBalanceRoundTrip(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateUser(1))

	require.NoError(t, s.AdjustBalance(1, 5.3333))
	coins, err := s.Balance(1)
	require.NoError(t, err)
	require.InDelta(t, 15.333, coins, 1e-9)

	require.NoError(t, s.AdjustBalance(1, -5.3333))
	coins, err = s.Balance(1)
	require.NoError(t, err)
	require.InDelta(t, 10.0, coins, 1e-9)
}

func TestAdjustBalanceTouchesActivity(t *testing.T) {
	s := newTestStore(t)

	created := time.Date(2024, 5, 10, 12, 0, 0, 0, time.Local)
	at(s, created)
	require.NoError(t, s.CreateUser(1))

	adjusted := created.Add(time.Hour)
	at(s, adjusted)
	require.NoError(t, s.AdjustBalance(1, -2.5))

	var u model.User
	require.NoError(t, s.db.First(&u, "userid = ?", int64(1)).Error)
	require.Equal(t, adjusted.Unix(), u.LastLogin)
	require.InDelta(t, 7.5, u.Coins, 1e-9)
}

func TestGroupAllow(t *testing.T) {
	s := newTestStore(t)

	allowed, err := s.GroupAllowed(100)
	require.NoError(t, err)
	require.False(t, allowed)

	require.NoError(t, s.SetGroupAllowed(100, true))
	allowed, err = s.GroupAllowed(100)
	require.NoError(t, err)
	require.True(t, allowed)

	require.NoError(t, s.SetGroupAllowed(100, false))
	allowed, err = s.GroupAllowed(100)
	require.NoError(t, err)
	require.False(t, allowed)
}

func TestRecordPaymentAccumulatesPerDay(t *testing.T) {
	s := newTestStore(t)

	day1 := time.Date(2024, 5, 10, 9, 0, 0, 0, time.Local)
	at(s, day1)

	require.NoError(t, s.RecordPayment(1, 100))
	require.NoError(t, s.RecordPayment(1, 50))

	vol, err := s.TodayPayment(1)
	require.NoError(t, err)
	require.Equal(t, 150.0, vol)

	// Next calendar day: a fresh record, day 1 untouched.
	day2 := day1.Add(24 * time.Hour)
	at(s, day2)

	vol, err = s.TodayPayment(1)
	require.NoError(t, err)
	require.Equal(t, 0.0, vol)

	require.NoError(t, s.RecordPayment(1, 30))
	vol, err = s.TodayPayment(1)
	require.NoError(t, err)
	require.Equal(t, 30.0, vol)

	recs, err := s.PaymentHistory(1)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, day1.Format("2006-01-02"), recs[0].Date)
	require.Equal(t, int64(150), recs[0].Volume)
	require.Equal(t, day2.Format("2006-01-02"), recs[1].Date)
	require.Equal(t, int64(30), recs[1].Volume)
}

func TestRecordPaymentTruncatesVolume(t *testing.T) {
	s := newTestStore(t)

	at(s, time.Date(2024, 5, 10, 9, 0, 0, 0, time.Local))
	require.NoError(t, s.RecordPayment(1, 9.9))

	vol, err := s.TodayPayment(1)
	require.NoError(t, err)
	require.Equal(t, 9.0, vol)
}

func TestTodayPaymentNoRecord(t *testing.T) {
	s := newTestStore(t)

	vol, err := s.TodayPayment(123)
	require.NoError(t, err)
	require.Equal(t, 0.0, vol)
}

func TestPaymentHistoryEmpty(t *testing.T) {
	s := newTestStore(t)

	recs, err := s.PaymentHistory(123)
	require.NoError(t, err)
	require.Empty(t, recs)
}

func TestPunishInactiveUsers(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2024, 5, 10, 12, 0, 0, 0, time.Local)

	// Idle for two days with coins above the threshold: punished.
	at(s, base.Add(-48*time.Hour))
	require.NoError(t, s.CreateUser(1))
	require.NoError(t, s.AdjustBalance(1, -5)) // 5.0

	// Idle but below the coins threshold: untouched.
	at(s, base.Add(-48*time.Hour))
	require.NoError(t, s.CreateUser(2))
	require.NoError(t, s.AdjustBalance(2, -9.5)) // 0.5

	// Idle exactly 24h: not strictly over, untouched.
	at(s, base.Add(-86400*time.Second))
	require.NoError(t, s.CreateUser(3))

	// Active now: untouched.
	at(s, base)
	require.NoError(t, s.CreateUser(4))

	s.penalty = func() float64 { return 0.4567 }
	require.NoError(t, s.PunishInactiveUsers())

	coins, err := s.Balance(1)
	require.NoError(t, err)
	require.InDelta(t, 4.543, coins, 1e-9)

	for _, tc := range []struct {
		userid int64
		want   float64
	}{
		{2, 0.5},
		{3, 10.0},
		{4, 10.0},
	} {
		coins, err := s.Balance(tc.userid)
		require.NoError(t, err)
		require.InDelta(t, tc.want, coins, 1e-9)
	}
}

func TestPunishInactiveUsersRandomRange(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2024, 5, 10, 12, 0, 0, 0, time.Local)

	at(s, base.Add(-48*time.Hour))
	require.NoError(t, s.CreateUser(1))
	require.NoError(t, s.AdjustBalance(1, -5)) // 5.0

	at(s, base)
	require.NoError(t, s.PunishInactiveUsers())

	coins, err := s.Balance(1)
	require.NoError(t, err)
	require.GreaterOrEqual(t, 5.0-coins, 0.0)
	require.LessOrEqual(t, 5.0-coins, 1.0)
}

func TestLeaderboard(t *testing.T) {
	s := newTestStore(t)

	deltas := map[int64]float64{1: 5, 2: -3, 3: 0.25, 4: -9}
	for userid, d := range deltas {
		require.NoError(t, s.CreateUser(userid))
		require.NoError(t, s.AdjustBalance(userid, d))
	}

	users, err := s.Leaderboard()
	require.NoError(t, err)
	require.Len(t, users, 4)
	for i := 1; i < len(users); i++ {
		require.GreaterOrEqual(t, users[i-1].Coins, users[i].Coins)
	}
	require.Equal(t, int64(1), users[0].UserID)
	require.Equal(t, int64(4), users[len(users)-1].UserID)
}

func TestLeaderboardTieBreak(t *testing.T) {
	s := newTestStore(t)

	// Same balance, ordered by ascending userid.
	require.NoError(t, s.CreateUser(20))
	require.NoError(t, s.CreateUser(10))

	users, err := s.Leaderboard()
	require.NoError(t, err)
	require.Len(t, users, 2)
	require.Equal(t, int64(10), users[0].UserID)
	require.Equal(t, int64(20), users[1].UserID)
}
