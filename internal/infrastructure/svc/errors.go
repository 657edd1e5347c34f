package svc

import "errors"

// ErrNoFeedsEnabled 错误：没有可用的行情源
var ErrNoFeedsEnabled = errors.New("no tick feeds enabled")

// ErrUnknownFeedSource 错误：配置的行情源未注册
var ErrUnknownFeedSource = errors.New("unknown tick feed source")
