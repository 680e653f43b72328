package utils

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cppla/chartgate/config"
)

func upKey(parts ...string) string {
	return "upload:" + strings.Join(parts, ":")
}

// UploadCooldownTry enforces a short cooldown between upload attempts per IP.
// Fail-open on Redis errors: abuse throttling must not take uploads down.
func UploadCooldownTry(ip string) bool {
	cfg := config.Get()
	sec := cfg.UploadAttemptCooldownSec
	if sec <= 0 {
		return true
	}
	cli := GetRedis()
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	key := upKey("cooldown", ip)
	ok, err := cli.SetNX(ctx, key, "1", time.Duration(sec)*time.Second).Result()
	if err != nil {
		return true
	}
	return ok
}

// UploadRejectRecord increments the rejected-upload counter for this hour and
// returns the running count. Repeated rejections are the signal of someone
// probing the validator.
func UploadRejectRecord(ip string) int {
	cli := GetRedis()
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	key := upKey("rejhour", ip, time.Now().Format("2006010215"))
	n, err := cli.Incr(ctx, key).Result()
	if err != nil {
		return 0
	}
	_ = cli.Expire(ctx, key, time.Hour).Err()
	return int(n)
}

// UploadIsBanned checks temporary ban status for IP.
func UploadIsBanned(ip string) bool {
	cli := GetRedis()
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	key := upKey("ban", ip)
	exists, err := cli.Exists(ctx, key).Result()
	if err != nil {
		return false
	}
	return exists > 0
}

// UploadBan sets a temporary ban for IP after too many rejected uploads.
func UploadBan(ip string) {
	cfg := config.Get()
	minutes := cfg.UploadTempBanMinutes
	if minutes <= 0 {
		minutes = 60
	}
	cli := GetRedis()
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	key := upKey("ban", ip)
	_ = cli.Set(ctx, key, fmt.Sprintf("ban-%s", ip), time.Duration(minutes)*time.Minute).Err()
}

// UploadRejectLimit returns the hourly rejection ceiling before a ban applies.
func UploadRejectLimit() int {
	limit := config.Get().UploadRejectedMaxPerIPPerHour
	if limit <= 0 {
		return 30
	}
	return limit
}
