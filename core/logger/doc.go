// Package logger records the shell's pipeline and job events as newline
// delimited JSON so sessions can be reviewed later.
package logger
