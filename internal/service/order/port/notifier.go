// internal/service/order/port/notifier.go
package port

import "context"

// Notifier 是广播通知的出站端口。通知是尽力而为的旁路：
// 实现方自行消化错误，业务流程从不因广播失败而中断。
type Notifier interface {
	Notify(ctx context.Context, event string, payload interface{})
}
