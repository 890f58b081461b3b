package scheduler

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// cronParser — парсер cron-выражений.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// instanceNamespace — namespace для UUID instances, запущенных по расписанию.
var instanceNamespace = uuid.MustParse("6f1c8a52-2d0b-4f0e-9a57-1b7e3c4d9e10")

// ParseCron разбирает cron-выражение (5 полей или @descriptor).
func ParseCron(expr string) (cron.Schedule, error) {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron expression %q: %w", expr, err)
	}
	return schedule, nil
}

// ValidateCronExpr проверяет валидность cron-выражения.
func ValidateCronExpr(cronExpr string) error {
	_, err := cronParser.Parse(cronExpr)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}
	return nil
}

// NextDue вычисляет следующее время срабатывания после from (в UTC).
func NextDue(schedule cron.Schedule, from time.Time) time.Time {
	return schedule.Next(from).UTC()
}

// InstanceID формирует детерминированный ID instance для trigger и времени тика.
// Один и тот же тик на любой реплике даёт один и тот же ID.
func InstanceID(trigger string, due time.Time) string {
	key := fmt.Sprintf("%s_%d", trigger, due.Unix())
	return uuid.NewSHA1(instanceNamespace, []byte(key)).String()
}
