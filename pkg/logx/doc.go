// Package logx is stayconnect's logging layer over zerolog.
//
// Every component gets a Logger derived with With(Comp("name")); the daemon's
// root logger comes from a Service so `logging` config edits apply without a
// restart. Console lines go to stderr, file lines are JSON.
package logx
