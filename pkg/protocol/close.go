package protocol

import "github.com/gorilla/websocket"

// 关闭码，对端只能观察到这些码
const (
	ClosePolicyViolation   = websocket.ClosePolicyViolation   // 缺少 agent id
	CloseUnsupportedData   = websocket.CloseUnsupportedData   // 二进制帧
	CloseProtocolError     = websocket.CloseProtocolError     // 非法 JSON / 缺字段
	CloseConfigUnavailable = websocket.CloseInternalServerErr // Agent 配置无法加载
	CloseNormal            = websocket.CloseNormalClosure
)

// CloseReason 返回关闭码对应的通用说明，不包含内部错误细节
func CloseReason(code int) string {
	switch code {
	case ClosePolicyViolation:
		return "missing agent id"
	case CloseUnsupportedData:
		return "binary frames are not supported"
	case CloseProtocolError:
		return "malformed frame"
	case CloseConfigUnavailable:
		return "agent configuration unavailable"
	default:
		return ""
	}
}
