// Package backup runs snapshot jobs against a backup directory.
//
// A Manager ties the pieces together: it takes the directory lock, streams a
// manifest from the snapshot package into a (possibly compressed) artifact
// named backup_<type>_<schedule>_<timestamp>.json[.ext], appends the outcome to
// the JSON backup log, mirrors the artifact to a RemoteStore and applies the
// retention policy. The same lock guards SQL export and import, restores and
// standalone cleanups, so only one operation touches the directory at a time.
//
// Scheduler drives Manager.CreateSnapshot from cron specs for the daily,
// weekly and monthly schedules.
package backup
