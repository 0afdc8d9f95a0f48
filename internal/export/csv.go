package export

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"
)

const dateLayout = "2006-01-02"

// UserRow 是用户导出的一行。
type UserRow struct {
	Username string
	Email    string
	UserType string
	Blocked  bool
}

// ReferralRow 是推荐用户导出的一行。
type ReferralRow struct {
	Username     string
	Email        string
	RegisteredOn time.Time
	Converted    bool
}

// InvitationRow 是受邀学生导出的一行。
type InvitationRow struct {
	Name          string
	Email         string
	Status        string
	InvitedOn     time.Time
	ProfileStatus string
}

// AgentRow 是代理排行导出的一行。
type AgentRow struct {
	Username       string
	TotalReferrals int64
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

func write(w io.Writer, header []string, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

// Users 写出 Username, Email, User Type, Blocked。
func Users(w io.Writer, rows []UserRow) error {
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, []string{r.Username, r.Email, r.UserType, yesNo(r.Blocked)})
	}
	return write(w, []string{"Username", "Email", "User Type", "Blocked"}, out)
}

// Referrals 写出 Username, Email, Registered On, Converted。
func Referrals(w io.Writer, rows []ReferralRow) error {
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, []string{r.Username, r.Email, r.RegisteredOn.Format(dateLayout), yesNo(r.Converted)})
	}
	return write(w, []string{"Username", "Email", "Registered On", "Converted"}, out)
}

// Invitations 写出 Name, Email, Status, Invitation Date, Profile Status。
func Invitations(w io.Writer, rows []InvitationRow) error {
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, []string{r.Name, r.Email, r.Status, r.InvitedOn.Format(dateLayout), r.ProfileStatus})
	}
	return write(w, []string{"Name", "Email", "Status", "Invitation Date", "Profile Status"}, out)
}

// TopAgents 写出 Agent Username, Total Referrals。
func TopAgents(w io.Writer, rows []AgentRow) error {
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, []string{r.Username, strconv.FormatInt(r.TotalReferrals, 10)})
	}
	return write(w, []string{"Agent Username", "Total Referrals"}, out)
}
