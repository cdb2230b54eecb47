package models

import (
	"time"

	"golang.org/x/crypto/bcrypt"
)

// User is a reporter profile. Reputation, ReportCount and Rank are
// maintained by the reputation ledger.
type User struct {
	ID          string    `bson:"_id,omitempty" json:"id"`
	Name        string    `bson:"name" json:"name"`
	Email       string    `bson:"email" json:"email"`
	Password    string    `bson:"password,omitempty" json:"-"`
	Verified    bool      `bson:"verified" json:"verified"`
	CivicID     string    `bson:"civicId" json:"civicId"`
	Rank        string    `bson:"rank" json:"rank"`
	Reputation  int       `bson:"reputation" json:"reputation"`
	ReportCount int       `bson:"reportCount" json:"reportCount"`
	CreatedAt   time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time `bson:"updatedAt" json:"updatedAt"`
}

func (u *User) HashPassword() error {
	hashed, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.Password = string(hashed)
	return nil
}

func (u *User) ComparePassword(candidate string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(candidate))
	return err == nil
}

// Trust captures the fields copied onto an issue at filing time.
func (u *User) Trust() ReporterSnapshot {
	return ReporterSnapshot{
		Verified: u.Verified,
		Rank:     u.Rank,
		CivicID:  u.CivicID,
	}
}
