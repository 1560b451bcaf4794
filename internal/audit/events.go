package audit

// Typed emitters for the common event shapes. All of them funnel through
// Log, so redaction and rotation apply uniformly.

// LogToolCall records one tool invocation outcome.
func (l *Logger) LogToolCall(toolName, projectID, keyID string, durationMs float64, success bool, errMsg string) {
	level := LevelInfo
	fields := map[string]any{
		"tool_name":   toolName,
		"project_id":  projectID,
		"key_id":      keyID,
		"duration_ms": durationMs,
		"success":     success,
	}
	if !success {
		level = LevelWarning
		fields["error"] = errMsg
	}
	l.Log(EventToolCall, level, fields)
}

// LogAuthentication records an authentication attempt.
func (l *Logger) LogAuthentication(keyID, projectID, method string, success bool, reason string) {
	level := LevelInfo
	fields := map[string]any{
		"key_id":     keyID,
		"project_id": projectID,
		"method":     method,
		"success":    success,
	}
	if !success {
		level = LevelWarning
		fields["reason"] = reason
	}
	l.Log(EventAuthentication, level, fields)
}

// LogSecurityEvent records a critical security signal such as
// authorization-code or refresh-token reuse.
func (l *Logger) LogSecurityEvent(message string, fields map[string]any) {
	merged := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		merged[k] = v
	}
	merged["message"] = message
	l.Log(EventError, LevelCritical, merged)
}

// LogHealthCheck records one health probe result.
func (l *Logger) LogHealthCheck(projectID string, responseTimeMs float64, success bool, errMsg string) {
	level := LevelInfo
	fields := map[string]any{
		"project_id":       projectID,
		"response_time_ms": responseTimeMs,
		"success":          success,
	}
	if !success {
		level = LevelWarning
		fields["error"] = errMsg
	}
	l.Log(EventHealthCheck, level, fields)
}
