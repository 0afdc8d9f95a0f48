package errcode

// 后台任务通知中的错误码：
// - 0：成功
// - 4xxx：任务完成但有告警，或因业务条件被跳过
// - 5xxx：系统错误，任务最终失败
const (
	OK              = 0
	ResourceMissing = 4004
	NotPaid         = 4030
	SystemError     = 5000
)

// Message 返回错误码的默认提示。
func Message(code int) string {
	switch code {
	case OK:
		return ""
	case ResourceMissing:
		return "Some files were missing and were skipped."
	case NotPaid:
		return "Unlock your portfolio to use this feature."
	default:
		return "Something went wrong. Please try again later."
	}
}
