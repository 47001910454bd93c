package report

// messages holds the user-facing text of one language.
type messages struct {
	loading       string
	loaded        string
	modelInfo     string
	numClasses    string
	inputSize     string
	exporting     string
	inputTensor   string
	outputTensor  string
	success       string
	file          string
	size          string
	checksum      string
	nextSteps     string
	stepCopy      string
	stepSelect    string
	stepRun       string
	notCreated    string
	failed        string
	tryHeader     string
	hintNetwork   string
	hintToken     string
	hintModelID   string
	hintGeometry  string
	hintDisk      string
	hintRerun     string
	sizeUnset     string
	unitMegabytes string
}

var catalog = map[Language]messages{
	English: {
		loading:       "Loading model %s from Hugging Face...",
		loaded:        "Model loaded successfully!",
		modelInfo:     "Model information:",
		numClasses:    "   - Number of classes: %d",
		inputSize:     "   - Input size: %s",
		exporting:     "Exporting to ONNX format...",
		inputTensor:   "   - Input tensor: %s",
		outputTensor:  "   - Output tensor: %s",
		success:       "SUCCESS! Model converted:",
		file:          "   - File: %s",
		size:          "   - Size: %.1f %s",
		checksum:      "   - SHA-256: %s",
		nextSteps:     "Next steps:",
		stepCopy:      "   1. Copy '%s' to Assets/Models/ in your Unity project",
		stepSelect:    "   2. Select this model in AsyncSegmentationManager",
		stepRun:       "   3. Run the scene",
		notCreated:    "ERROR: file was not created",
		failed:        "Error during loading or conversion: %v",
		tryHeader:     "Try:",
		hintNetwork:   "   - Check internet connection",
		hintToken:     "   - Set HF_TOKEN if the repository is private or gated",
		hintModelID:   "   - Check the model identifier (SEGPORT_MODEL_ID)",
		hintGeometry:  "   - Check size.height and size.width in preprocessor_config.json",
		hintDisk:      "   - Check that the output directory exists and is writable",
		hintRerun:     "   - Run the conversion again",
		sizeUnset:     "not set (default 512x512)",
		unitMegabytes: "MB",
	},
	Russian: {
		loading:       "Загрузка модели %s из Hugging Face...",
		loaded:        "Модель успешно загружена!",
		modelInfo:     "Информация о модели:",
		numClasses:    "   - Количество классов: %d",
		inputSize:     "   - Размер входного изображения: %s",
		exporting:     "Экспорт в ONNX формат...",
		inputTensor:   "   - Входной тензор: %s",
		outputTensor:  "   - Выходной тензор: %s",
		success:       "УСПЕХ! Модель сконвертирована:",
		file:          "   - Файл: %s",
		size:          "   - Размер: %.1f %s",
		checksum:      "   - SHA-256: %s",
		nextSteps:     "Следующие шаги:",
		stepCopy:      "   1. Скопируйте файл '%s' в папку Assets/Models/ вашего Unity проекта",
		stepSelect:    "   2. В AsyncSegmentationManager выберите эту модель",
		stepRun:       "   3. Запустите сцену",
		notCreated:    "Ошибка: файл не был создан",
		failed:        "Ошибка при загрузке или конвертации: %v",
		tryHeader:     "Попробуйте:",
		hintNetwork:   "   - Проверить интернет соединение",
		hintToken:     "   - Задать HF_TOKEN, если репозиторий закрытый",
		hintModelID:   "   - Проверить идентификатор модели (SEGPORT_MODEL_ID)",
		hintGeometry:  "   - Проверить size.height и size.width в preprocessor_config.json",
		hintDisk:      "   - Проверить, что папка назначения существует и доступна для записи",
		hintRerun:     "   - Запустить конвертацию ещё раз",
		sizeUnset:     "не задан (по умолчанию 512x512)",
		unitMegabytes: "МБ",
	},
}
