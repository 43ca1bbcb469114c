package domain

// Flow определяет тип сценария создания контента.
type Flow string

const (
	// FlowDiary - дневник разработки: ответы на вопросы -> AI-заголовок -> сохранение.
	FlowDiary Flow = "diary"
	// FlowActivity - извлечение активностей из текста ретроспективы.
	FlowActivity Flow = "activity"
)

// Valid проверяет, что значение является известным сценарием.
func (f Flow) Valid() bool {
	return f == FlowDiary || f == FlowActivity
}

// ResultKind - вариант результата генерации для сценария.
func (f Flow) ResultKind() ResultKind {
	if f == FlowActivity {
		return ResultActivities
	}
	return ResultTitle
}

// AffectedArea - область, чье сохраненное состояние поиска устаревает после коммита.
func (f Flow) AffectedArea() Area {
	if f == FlowActivity {
		return AreaActivity
	}
	return AreaProject
}

// Stage - этап сессии создания.
type Stage string

const (
	StageDrafting   Stage = "drafting"
	StageGenerating Stage = "generating"
	StageReviewing  Stage = "reviewing"
	StageCommitting Stage = "committing"
	StageDone       Stage = "done"
	StageError      Stage = "error"
)

// Area - логическая область интерфейса, к которой привязано состояние (фильтры, сессии).
type Area string

const (
	AreaMain            Area = "main"
	AreaProject         Area = "project"
	AreaActivity        Area = "activity"
	AreaProfile         Area = "profile"
	AreaDiaryCreate     Area = "diary-create"
	AreaActivityExtract Area = "activity-extract"
	AreaUnknown         Area = "unknown"
)

// CreationArea - область, в которой редактируется сценарий.
func CreationArea(f Flow) Area {
	if f == FlowActivity {
		return AreaActivityExtract
	}
	return AreaDiaryCreate
}
