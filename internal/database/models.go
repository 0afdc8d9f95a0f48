package database

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 用户类型。
const (
	UserTypeNormal  = "normal"
	UserTypeAgent   = "agent"
	UserTypeStudent = "student"
)

// 作品集状态。
const (
	PortfolioInProgress = "in_progress"
	PortfolioCompleted  = "completed"
)

// 学生邀请状态。
const (
	InvitationPending   = "pending"
	InvitationApproved  = "approved"
	InvitationRejected  = "rejected"
	InvitationActivated = "activated"
)

// 代理付款状态。
const (
	AgentPaymentPending   = "pending"
	AgentPaymentCompleted = "completed"
	AgentPaymentFailed    = "failed"
)

// User 表示系统中的账号信息。
type User struct {
	gorm.Model
	Username           string `gorm:"uniqueIndex;size:150"`
	Email              string `gorm:"index;size:254"`
	PasswordHash       string `gorm:"size:255"`
	IsStaff            bool   `gorm:"default:false"`
	IsSuperuser        bool   `gorm:"default:false"`
	IsActive           bool   `gorm:"default:true"`
	MustChangePassword bool   `gorm:"default:false"`
	LastLoginAt        *time.Time
	Profile            *Profile    `gorm:"constraint:OnDelete:CASCADE"`
	Portfolios         []Portfolio `gorm:"constraint:OnDelete:CASCADE"`
	Payments           []Payment   `gorm:"constraint:OnDelete:CASCADE"`
}

// Profile 每个账号恰好一条，保存身份、角色与计数器。
type Profile struct {
	gorm.Model
	UserID   uint   `gorm:"uniqueIndex"`
	UserType string `gorm:"size:16;default:normal;index"`

	// 代理创建的学生指向代理的 Profile。
	CreatedByID *uint    `gorm:"index"`
	CreatedBy   *Profile `gorm:"constraint:OnDelete:SET NULL"`

	TemplateChangeCount int `gorm:"default:0"`
	MaxTemplateChanges  int `gorm:"default:50"`
	PortfoliosRemaining int `gorm:"default:10"`

	FirstName       string `gorm:"size:100"`
	LastName        string `gorm:"size:100"`
	Email           string `gorm:"size:254"`
	Contact         string `gorm:"size:20"`
	Address         string `gorm:"type:text"`
	PinCode         string `gorm:"size:10"`
	ProfilePhotoKey string `gorm:"size:512"`
	ResumeKey       string `gorm:"size:512"`

	GithubLink      string `gorm:"size:512"`
	FacebookLink    string `gorm:"size:512"`
	InstagramLink   string `gorm:"size:512"`
	OtherSocialLink string `gorm:"size:512"`
	Extracurricular string `gorm:"type:text"`

	IsBlocked    bool `gorm:"default:false"`
	BlockedSince *time.Time
	BlockReason  string `gorm:"type:text"`

	TermsAccepted   bool `gorm:"default:false"`
	TermsAcceptedAt *time.Time

	AgentTotalEarnings    float64 `gorm:"default:0"`
	AgentPaymentCompleted bool    `gorm:"default:false"`
}

// IsAgent 判断是否为代理。
func (p Profile) IsAgent() bool { return p.UserType == UserTypeAgent }

// FullName 返回姓名。
func (p Profile) FullName() string {
	switch {
	case p.FirstName == "":
		return p.LastName
	case p.LastName == "":
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}

// Template 表示预置的作品集视觉模板，属于只读参考数据。
type Template struct {
	gorm.Model
	Name            string `gorm:"uniqueIndex;size:100"`
	PreviewImageURL string `gorm:"size:512"`
	TemplateFile    string `gorm:"size:255"`
	IsPDF           bool   `gorm:"default:false"`
}

// Portfolio 表示用户正在填写或已完成的作品集。
type Portfolio struct {
	gorm.Model
	UserID        uint   `gorm:"index"`
	ProfileID     uint   `gorm:"index"`
	Status        string `gorm:"size:16;default:in_progress"`
	Views         int    `gorm:"default:0"`
	IsPaid        bool   `gorm:"default:false"`
	TemplateID    *uint
	Template      *Template `gorm:"constraint:OnDelete:SET NULL"`
	PDFTemplateID *uint
	PDFTemplate   *Template `gorm:"constraint:OnDelete:SET NULL"`
	Slug          string    `gorm:"uniqueIndex;size:255"`
	PDFKey        string    `gorm:"size:512"`

	Education      []Education     `gorm:"constraint:OnDelete:CASCADE"`
	Experience     []Experience    `gorm:"constraint:OnDelete:CASCADE"`
	Projects       []Project       `gorm:"constraint:OnDelete:CASCADE"`
	Skills         []Skill         `gorm:"constraint:OnDelete:CASCADE"`
	Certifications []Certification `gorm:"constraint:OnDelete:CASCADE"`
	Languages      []Language      `gorm:"constraint:OnDelete:CASCADE"`
	Hobbies        []Hobby         `gorm:"constraint:OnDelete:CASCADE"`
	Summary        *Summary        `gorm:"constraint:OnDelete:CASCADE"`
}

// Education 教育经历。
type Education struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	PortfolioID uint   `gorm:"index" json:"-"`
	Institution string `gorm:"size:200" json:"institution"`
	Location    string `gorm:"size:150" json:"location"`
	Degree      string `gorm:"size:200" json:"degree"`
	StartMonth  int    `json:"start_month"`
	StartYear   int    `json:"start_year"`
	EndMonth    *int   `json:"end_month"`
	EndYear     *int   `json:"end_year"`
	Description string `gorm:"type:text" json:"description"`
}

// Experience 工作经历。
type Experience struct {
	ID               uint   `gorm:"primaryKey" json:"id"`
	PortfolioID      uint   `gorm:"index" json:"-"`
	JobTitle         string `gorm:"size:200" json:"job_title"`
	CompanyName      string `gorm:"size:200" json:"company_name"`
	Location         string `gorm:"size:150" json:"location"`
	StartMonth       int    `json:"start_month"`
	StartYear        int    `json:"start_year"`
	EndMonth         *int   `json:"end_month"`
	EndYear          *int   `json:"end_year"`
	CurrentlyWorking bool   `json:"currently_working"`
	Description      string `gorm:"type:text" json:"description"`
}

// Project 项目经历。
type Project struct {
	ID               uint   `gorm:"primaryKey" json:"id"`
	PortfolioID      uint   `gorm:"index" json:"-"`
	Title            string `gorm:"size:200" json:"title"`
	Description      string `gorm:"type:text" json:"description"`
	Link             string `gorm:"size:512" json:"link"`
	TechnologiesUsed string `gorm:"size:300" json:"technologies_used"`
	ProjectType      string `gorm:"size:20;default:personal" json:"project_type"`
}

// Skill 技能。
type Skill struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	PortfolioID uint   `gorm:"index" json:"-"`
	Name        string `gorm:"size:100" json:"name"`
	Level       string `gorm:"size:20" json:"level"`
}

// Certification 证书。
type Certification struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	PortfolioID uint   `gorm:"index" json:"-"`
	Name        string `gorm:"size:200" json:"name"`
	Issuer      string `gorm:"size:200" json:"issuer"`
	IssueMonth  int    `json:"issue_month"`
	IssueYear   int    `json:"issue_year"`
	Description string `gorm:"type:text" json:"description"`
}

// Language 语言能力。
type Language struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	PortfolioID uint   `gorm:"index" json:"-"`
	Name        string `gorm:"size:100" json:"name"`
	Proficiency string `gorm:"size:20" json:"proficiency"`
}

// Hobby 兴趣爱好。
type Hobby struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	PortfolioID uint   `gorm:"index" json:"-"`
	Name        string `gorm:"size:100" json:"name"`
}

// Summary 个人简介，每个作品集至多一条。
type Summary struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	PortfolioID uint   `gorm:"uniqueIndex" json:"-"`
	Content     string `gorm:"type:text" json:"content"`
}

// Payment 支付记录，金额单位为分（paise）。
type Payment struct {
	gorm.Model
	UserID           uint   `gorm:"index"`
	User             User   `gorm:"constraint:OnDelete:CASCADE"`
	OrderID          string `gorm:"size:100;index"`
	PaymentID        string `gorm:"size:100;uniqueIndex"`
	Signature        string `gorm:"size:255"`
	Amount           int64
	InvoiceEmailedAt *time.Time
	InvoiceKey       string `gorm:"size:512"`
}

// InvoiceNumber 生成形如 INV-2025-0007 的发票号。
func (p Payment) InvoiceNumber() string {
	return fmt.Sprintf("INV-%d-%04d", p.CreatedAt.Year(), p.ID)
}

// AmountRupees 将分转换为卢比。
func (p Payment) AmountRupees() float64 {
	return float64(p.Amount) / 100
}

// Referral 代理推荐关系，每个被推荐用户至多一条。
type Referral struct {
	gorm.Model
	ReferrerID   uint `gorm:"index"`
	Referrer     User `gorm:"constraint:OnDelete:CASCADE"`
	ReferredID   uint `gorm:"uniqueIndex"`
	Referred     User `gorm:"constraint:OnDelete:CASCADE"`
	RegisteredAt time.Time
	IsConverted  bool `gorm:"default:false"`
	ConvertedAt  *time.Time
}

// StudentInvitation 代理提交的学生邀请，等待管理员审批。
type StudentInvitation struct {
	gorm.Model
	AgentProfileID   uint    `gorm:"uniqueIndex:idx_invitation_agent_email"`
	AgentProfile     Profile `gorm:"constraint:OnDelete:CASCADE"`
	StudentEmail     string  `gorm:"uniqueIndex:idx_invitation_agent_email;size:254"`
	StudentUsername  string  `gorm:"size:150"`
	StudentFirstName string  `gorm:"size:100"`
	StudentLastName  string  `gorm:"size:100"`
	Status           string  `gorm:"size:16;default:pending;index"`
	RejectionReason  string  `gorm:"type:text"`
	ApprovedAt       *time.Time
	ApprovedByID     *uint
	StudentUserID    *uint
	AgentPayments    []AgentPayment `gorm:"many2many:agent_payment_invitations;"`
}

// AgentPayment 代理为已审批学生的批量付款。
type AgentPayment struct {
	gorm.Model
	AgentProfileID uint    `gorm:"index"`
	AgentProfile   Profile `gorm:"constraint:OnDelete:CASCADE"`
	Amount         float64
	StudentCount   int
	PerStudentCost float64
	Status         string              `gorm:"size:16;default:pending"`
	OrderID        string              `gorm:"size:100"`
	PaymentID      string              `gorm:"size:100"`
	Invitations    []StudentInvitation `gorm:"many2many:agent_payment_invitations;"`
}

// AdminNotification 管理员通知。
type AdminNotification struct {
	gorm.Model
	Type         string `gorm:"size:50"`
	Title        string `gorm:"size:255"`
	Message      string `gorm:"type:text"`
	InvitationID *uint
	IsRead       bool `gorm:"default:false"`
}

// UserActivity 用户行为记录。
type UserActivity struct {
	gorm.Model
	UserID uint           `gorm:"index"`
	Action string         `gorm:"size:100"`
	Detail datatypes.JSON `gorm:"type:jsonb"`
	IP     string         `gorm:"size:64"`
}

// AdminLog 管理员操作审计。
type AdminLog struct {
	gorm.Model
	AdminID      uint           `gorm:"index"`
	Action       string         `gorm:"size:100"`
	TargetUserID *uint          `gorm:"index"`
	Detail       datatypes.JSON `gorm:"type:jsonb"`
}
