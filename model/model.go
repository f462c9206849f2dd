package model

// User holds one chat participant's Coins balance. New users start at 10.0.
type User struct {
	UserID    int64   `gorm:"column:userid;primaryKey"`
	Coins     float64 `gorm:"column:coins;not null"`
	LastLogin int64   `gorm:"column:last_login;not null;default:0"` // Unix seconds
}

func (User) TableName() string {
	return "userdata"
}

// Group holds one chat group's check-in permission. Rows are created lazily
// with Allow false.
type Group struct {
	GroupID int64 `gorm:"column:groupid;primaryKey"`
	Allow   bool  `gorm:"column:allow;not null"`
}

func (Group) TableName() string {
	return "groupdata"
}

// PayRecord accumulates transfer volume for one user on one calendar day.
// At most one row exists per (UserID, Date).
type PayRecord struct {
	ID     uint   `gorm:"primaryKey"`
	UserID int64  `gorm:"column:userid;index;not null"`
	Date   string `gorm:"column:date;type:varchar(20);not null"` // 2006-01-02, local time
	Volume int64  `gorm:"column:volume;not null"`
}

func (PayRecord) TableName() string {
	return "pay_data"
}
