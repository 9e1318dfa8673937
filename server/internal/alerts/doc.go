// Package alerts evaluates rule conditions against the newest build of a job
// each time one is recorded, and delivers webhook notifications to Slack,
// Teams or generic HTTP targets when a rule fires or resolves.
package alerts
