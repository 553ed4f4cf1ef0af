package http

import "context"

type contextKey string

const jobNameContextKey contextKey = "job_name"

func contextWithJobName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, jobNameContextKey, name)
}

func jobNameFromContext(ctx context.Context) string {
	name, _ := ctx.Value(jobNameContextKey).(string)
	return name
}
