package portfolio

import (
	"fmt"

	"portfolioPro/internal/database"
)

// Step 标识向导中的一个步骤。
type Step string

const (
	StepPersonal1     Step = "personal1"
	StepEducation     Step = "education"
	StepProject       Step = "project"
	StepExperience    Step = "experience"
	StepCertification Step = "certification"
	StepSkill         Step = "skill"
	StepLanguage      Step = "language"
	StepHobby         Step = "hobby"
	StepExtras        Step = "extras"
	StepSummary       Step = "summary"
	StepPersonal2     Step = "personal2"
	StepDone          Step = "done"
)

// Order 是向导的固定顺序，StepDone 为终点。
var Order = []Step{
	StepPersonal1,
	StepEducation,
	StepProject,
	StepExperience,
	StepCertification,
	StepSkill,
	StepLanguage,
	StepHobby,
	StepExtras,
	StepSummary,
	StepPersonal2,
	StepDone,
}

// SectionCount 是参与进度计算的步骤数量（不含 StepDone）。
const SectionCount = 11

// Action 表示一次步骤提交的意图。
type Action string

const (
	// ActionSkip 不保存，直接前进。
	ActionSkip Action = "skip"
	// ActionAddMore 保存后停留在当前步骤，并多给一个空白条目。
	ActionAddMore Action = "add_more"
	// ActionSave 保存并前进。
	ActionSave Action = "save"
)

// ParseAction 解析提交动作，空值视为 save。
func ParseAction(raw string) (Action, error) {
	switch Action(raw) {
	case "", ActionSave:
		return ActionSave, nil
	case ActionSkip:
		return ActionSkip, nil
	case ActionAddMore:
		return ActionAddMore, nil
	}
	return "", fmt.Errorf("unknown action %q", raw)
}

// ParseStep 校验路由参数中的步骤名。
func ParseStep(raw string) (Step, error) {
	for _, s := range Order {
		if s == StepDone {
			continue
		}
		if string(s) == raw {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown step %q", raw)
}

// Index 返回步骤在 Order 中的位置，未知步骤返回 -1。
func Index(step Step) int {
	for i, s := range Order {
		if s == step {
			return i
		}
	}
	return -1
}

// Next 返回下一个步骤；StepDone 与未知步骤均返回 StepDone。
func Next(step Step) Step {
	i := Index(step)
	if i < 0 || i+1 >= len(Order) {
		return StepDone
	}
	return Order[i+1]
}

// RequiresPersonalInfo 判断进入该步骤前是否必须完成基本信息。
func RequiresPersonalInfo(step Step) bool {
	return Index(step) > Index(StepPersonal1)
}

// Collects 判断该步骤是否为可多条录入的集合类步骤。
func Collects(step Step) bool {
	switch step {
	case StepEducation, StepProject, StepExperience, StepCertification, StepSkill, StepLanguage, StepHobby:
		return true
	}
	return false
}

// Destination 描述提交后跳转到哪里。
type Destination struct {
	Step Step
	// Edit 为 true 时返回编辑总览，而不是下一个步骤。
	Edit bool
	// Preview 为 true 时进入表单数据预览（向导结束）。
	Preview bool
}

// Resolve 计算一次提交后的去向。personal2 的任何提交都会结束向导；
// 已完成的作品集处于编辑流程，保存后回到编辑总览。
func Resolve(step Step, action Action, status string) Destination {
	if action == ActionAddMore {
		return Destination{Step: step}
	}
	if step == StepPersonal2 {
		return Destination{Step: StepDone, Preview: true}
	}
	if status == database.PortfolioCompleted {
		return Destination{Step: step, Edit: true}
	}
	next := Next(step)
	return Destination{Step: next, Preview: next == StepDone}
}

// CanSkip 判断步骤是否允许跳过。基本信息是后续步骤的前提，不能跳过。
func CanSkip(step Step) bool {
	return step != StepPersonal1
}
