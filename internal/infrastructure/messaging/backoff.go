package messaging

import "time"

// BackoffConfig pending 消息重投间隔
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// DefaultBackoffConfig 1s 起步，翻倍，上限 1m
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{Initial: time.Second, Max: time.Minute, Multiplier: 2}
}

// FixedBackoff 固定间隔
func FixedBackoff(d time.Duration) BackoffConfig {
	return BackoffConfig{Initial: d, Max: d, Multiplier: 1}
}

// CalculateBackoff 第 retryCount 次重投前的等待时间
func (c BackoffConfig) CalculateBackoff(retryCount int) time.Duration {
	d := c.Initial
	for i := 0; i < retryCount && d < c.Max; i++ {
		d = time.Duration(float64(d) * c.Multiplier)
	}
	if c.Max > 0 && d > c.Max {
		d = c.Max
	}
	return d
}
