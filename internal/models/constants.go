package models

const (
	RankerEmbedding = "embedding"
	RankerTree      = "tree"
)

const (
	// DefaultTopN количество рекомендаций по умолчанию
	DefaultTopN = 3

	// DefaultHistoryLength длина истории бронирований клиента
	DefaultHistoryLength = 5

	// DefaultSeed seed для сэмплирования негативов и разбиения выборки
	DefaultSeed = 42

	// DefaultValidationSplit доля валидационной выборки
	DefaultValidationSplit = 0.2

	// DefaultCacheTTL время жизни кэша рекомендаций в секундах
	DefaultCacheTTL = 10 * 60

	// MaxTopN верхняя граница размера выдачи
	MaxTopN = 100

	// ModelName имя, под которым сохраняется обученная модель
	ModelName = "vehicle_ranker"
)
