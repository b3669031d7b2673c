package config

// mergeModels merges built-in and user-defined model catalog entries.
// User-defined models override built-in models with the same id.
func mergeModels(builtin map[string]ModelConfig, user map[string]ModelConfig) map[string]*ModelConfig {
	result := make(map[string]*ModelConfig, len(builtin)+len(user))
	for id, m := range builtin {
		mc := m
		result[id] = &mc
	}
	for id, m := range user {
		mc := m
		result[id] = &mc
	}
	return result
}

// mergeAgents merges built-in and user-defined agent definitions.
// User-defined agents override built-in agents with the same name.
func mergeAgents(builtin map[string]AgentDefConfig, user map[string]AgentDefConfig) map[string]*AgentDefConfig {
	result := make(map[string]*AgentDefConfig, len(builtin)+len(user))
	for name, a := range builtin {
		ac := a
		result[name] = &ac
	}
	for name, a := range user {
		ac := a
		result[name] = &ac
	}
	return result
}

// mergeRoundtables merges built-in and user-defined roundtable presets.
func mergeRoundtables(builtin map[string]RoundtableConfig, user map[string]RoundtableConfig) map[string]*RoundtableConfig {
	result := make(map[string]*RoundtableConfig, len(builtin)+len(user))
	for id, r := range builtin {
		rc := r
		result[id] = &rc
	}
	for id, r := range user {
		rc := r
		result[id] = &rc
	}
	return result
}

// mergeCronJobs merges built-in and user-defined cron job definitions.
func mergeCronJobs(builtin map[string]CronJobConfig, user map[string]CronJobConfig) map[string]*CronJobConfig {
	result := make(map[string]*CronJobConfig, len(builtin)+len(user))
	for name, j := range builtin {
		jc := j
		result[name] = &jc
	}
	for name, j := range user {
		jc := j
		result[name] = &jc
	}
	return result
}
