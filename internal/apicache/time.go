package apicache

import "time"

// SimpleTime 以 unix 毫秒表示时间点，早于 epoch 的时间饱和为 0。
type SimpleTime uint64

// SimpleTimeEpoch 同时充当"无限久远"的哨兵值，新注册的 store 以它入队以便最先处理。
const SimpleTimeEpoch SimpleTime = 0

// Now 返回当前系统时钟。
func Now() SimpleTime {
	return FromTime(time.Now())
}

// FromTime 转换 time.Time，早于 epoch 时返回 SimpleTimeEpoch。
func FromTime(t time.Time) SimpleTime {
	millis := t.UnixMilli()
	if millis < 0 {
		return SimpleTimeEpoch
	}
	return SimpleTime(millis)
}

// UnixMillis 返回内部表示。
func (t SimpleTime) UnixMillis() int64 {
	return int64(t)
}

// Time 转换回 time.Time。
func (t SimpleTime) Time() time.Time {
	return time.UnixMilli(int64(t))
}

// DurationSince 返回 t - earlier，结果为负时返回 0。
func (t SimpleTime) DurationSince(earlier SimpleTime) time.Duration {
	if t <= earlier {
		return 0
	}
	return time.Duration(t-earlier) * time.Millisecond
}

// Add 返回 t + d，d 为负且越过 epoch 时饱和。
func (t SimpleTime) Add(d time.Duration) SimpleTime {
	ms := d.Milliseconds()
	if ms < 0 && SimpleTime(-ms) > t {
		return SimpleTimeEpoch
	}
	return SimpleTime(int64(t) + ms)
}
