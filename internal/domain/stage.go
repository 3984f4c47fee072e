package domain

import "fmt"

// Stage — этап конвейера анализа.
//
// Набор этапов фиксирован: топология конвейера задаётся на этапе компиляции,
// а не пользователем. Каждый этап выполняется отдельным worker-процессом.
type Stage string

const (
	// StageConfig — разрешение конфигурации run.
	StageConfig Stage = "config"

	// StageAnalyzer — анализ зависимостей.
	StageAnalyzer Stage = "analyzer"

	// StageAdvisor — поиск известных уязвимостей.
	StageAdvisor Stage = "advisor"

	// StageScanner — сканирование лицензий.
	StageScanner Stage = "scanner"

	// StageEvaluator — применение правил к результатам.
	StageEvaluator Stage = "evaluator"

	// StageReporter — генерация отчётов.
	StageReporter Stage = "reporter"

	// StageNotifier — рассылка уведомлений.
	StageNotifier Stage = "notifier"
)

// Stages — все этапы в порядке зависимостей конвейера:
//
//	config → analyzer → {advisor, scanner} → evaluator → reporter → notifier
var Stages = []Stage{
	StageConfig,
	StageAnalyzer,
	StageAdvisor,
	StageScanner,
	StageEvaluator,
	StageReporter,
	StageNotifier,
}

// ParseStage парсит строку в Stage.
func ParseStage(s string) (Stage, error) {
	for _, stage := range Stages {
		if string(stage) == s {
			return stage, nil
		}
	}
	return "", fmt.Errorf("unknown stage %q", s)
}

// String возвращает строковое представление Stage.
func (s Stage) String() string {
	return string(s)
}
