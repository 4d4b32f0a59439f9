// Package schedule provides recurring schedules for periodic job submission:
// fixed intervals, daily and weekly wall-clock times, and cron expressions.
package schedule
