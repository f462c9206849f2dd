package store

import (
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"coins-bot/model"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// inactiveAfter is how long a user may stay idle before the punishment
// sweep starts eating their Coins.
const inactiveAfter = 86400 // seconds

const startingCoins = 10.0

// Store is the persistence facade for balances, group check-in flags and
// daily payment volumes. One Store owns one SQLite file; construct with
// Open and release with Close. Methods are safe to call from a single
// goroutine; callers needing concurrent access must serialize externally.
type Store struct {
	db *gorm.DB

	// overridable in tests
	now     func() time.Time
	penalty func() float64
}

// Open creates the parent directory if needed, opens (or creates) the
// SQLite database at path and migrates the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&model.User{}, &model.Group{}, &model.PayRecord{}); err != nil {
		return nil, err
	}

	return &Store{
		db:      db,
		now:     time.Now,
		penalty: rand.Float64,
	}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// UserExists reports whether a row exists for userid.
func (s *Store) UserExists(userid int64) (bool, error) {
	var n int64
	err := s.db.Model(&model.User{}).Where("userid = ?", userid).Count(&n).Error
	return n > 0, err
}

// CreateUser inserts a new user with the starting balance. Calling it for
// an existing userid surfaces the engine's primary-key violation.
func (s *Store) CreateUser(userid int64) error {
	return s.db.Create(&model.User{
		UserID:    userid,
		Coins:     startingCoins,
		LastLogin: s.now().Unix(),
	}).Error
}

// TouchActivity records activity for userid, creating the user first if
// missing. The timestamp is always refreshed.
func (s *Store) TouchActivity(userid int64) error {
	exists, err := s.UserExists(userid)
	if err != nil {
		return err
	}
	if !exists {
		if err := s.CreateUser(userid); err != nil {
			return err
		}
	}
	return s.db.Model(&model.User{}).
		Where("userid = ?", userid).
		Update("last_login", s.now().Unix()).Error
}

// Balance returns the user's Coins. The user must exist; a missing user
// yields gorm.ErrRecordNotFound.
func (s *Store) Balance(userid int64) (float64, error) {
	var u model.User
	if err := s.db.First(&u, "userid = ?", userid).Error; err != nil {
		return 0, err
	}
	return u.Coins, nil
}

// AdjustBalance adds delta (may be negative) to the user's Coins, rounded
// to 3 decimals, and refreshes last_login. The addition runs as a single
// UPDATE inside the engine, so concurrent adjustments cannot lose writes.
// A missing user yields gorm.ErrRecordNotFound.
func (s *Store) AdjustBalance(userid int64, delta float64) error {
	res := s.db.Model(&model.User{}).
		Where("userid = ?", userid).
		Updates(map[string]interface{}{
			"coins":      gorm.Expr("ROUND(coins + ?, 3)", delta),
			"last_login": s.now().Unix(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// GroupAllowed reports whether check-in is enabled for the group. A group
// without a row is disabled, not an error.
func (s *Store) GroupAllowed(groupid int64) (bool, error) {
	var g model.Group
	err := s.db.First(&g, "groupid = ?", groupid).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return g.Allow, nil
}

// SetGroupAllowed sets the group's check-in flag, creating the row if
// needed.
func (s *Store) SetGroupAllowed(groupid int64, allow bool) error {
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "groupid"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"allow": allow}),
	}).Create(&model.Group{GroupID: groupid, Allow: allow}).Error
}

// RecordPayment adds volume (truncated to an integer) to the user's total
// for the current calendar day, creating today's row on first transfer.
func (s *Store) RecordPayment(userid int64, volume float64) error {
	amount := int64(volume)
	today := s.today()
	return s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.PayRecord{}).
			Where("userid = ? AND date = ?", userid, today).
			Update("volume", gorm.Expr("volume + ?", amount))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil
		}
		return tx.Create(&model.PayRecord{
			UserID: userid,
			Date:   today,
			Volume: amount,
		}).Error
	})
}

// PaymentHistory returns all of the user's daily payment rows in insertion
// order, which for this append-only table is chronological.
func (s *Store) PaymentHistory(userid int64) ([]model.PayRecord, error) {
	var recs []model.PayRecord
	err := s.db.Where("userid = ?", userid).Order("id").Find(&recs).Error
	return recs, err
}

// TodayPayment returns the user's accumulated volume for today, or 0 if
// nothing was transferred yet.
func (s *Store) TodayPayment(userid int64) (float64, error) {
	var rec model.PayRecord
	err := s.db.First(&rec, "userid = ? AND date = ?", userid, s.today()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return float64(rec.Volume), nil
}

// PunishInactiveUsers deducts a random amount in [0,1), rounded to 3
// decimals, from every user idle for more than 24 hours whose balance is
// above 1. The whole sweep commits as one transaction.
func (s *Store) PunishInactiveUsers() error {
	cutoff := s.now().Unix() - inactiveAfter
	return s.db.Transaction(func(tx *gorm.DB) error {
		var users []model.User
		if err := tx.Where("last_login < ? AND coins > 1", cutoff).Find(&users).Error; err != nil {
			return err
		}
		for _, u := range users {
			err := tx.Model(&model.User{}).
				Where("userid = ?", u.UserID).
				Update("coins", gorm.Expr("ROUND(coins - ?, 3)", s.penalty())).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Leaderboard returns all users ordered by Coins descending, ties broken
// by ascending userid.
func (s *Store) Leaderboard() ([]model.User, error) {
	var users []model.User
	err := s.db.Order("coins DESC, userid ASC").Find(&users).Error
	return users, err
}

func (s *Store) today() string {
	return s.now().Format("2006-01-02")
}
