package ctxengine

import "fmt"

// OutputLanguage selects the translation target and its system instruction.
type OutputLanguage string

// Supported output languages.
const (
	LanguageEnglish OutputLanguage = "english"
	LanguageChinese OutputLanguage = "chinese"
)

const chinesePrompt = "你是一位精通古代中文的专家学者，具有深厚的古典文学、历史文献和语言学功底。请将以下文本准确翻译为现代中文，并给出注释，不要重复原文。\n\n" +
	"请按以下格式输出：\n" +
	"**翻译**：[现代中文翻译]\n" +
	"**注释**：\n" +
	"1. [第一个注释点]\n" +
	"2. [第二个注释点]\n" +
	"3. [第三个注释点]\n" +
	"**考据延伸**：[相关的历史背景、典故出处等补充信息]"

const englishPrompt = "You are an expert scholar specializing in ancient Chinese literature, with profound knowledge of classical literature, historical documents, and linguistics. " +
	"Please translate the following ancient Chinese text into modern English accurately, providing annotations. Do not repeat the original text.\n\n" +
	"Please output in the following format:\n" +
	"**Translation**: [Modern English translation]\n" +
	"**Notes**:\n" +
	"1. [First explanatory point]\n" +
	"2. [Second explanatory point]  \n" +
	"3. [Third explanatory point]\n" +
	"**Historical Context**: [Relevant historical background, allusions, and supplementary information]"

// SystemInstruction returns the translation instruction for lang. An
// empty language means English.
func SystemInstruction(lang OutputLanguage) (string, error) {
	switch lang {
	case LanguageEnglish, "":
		return englishPrompt, nil
	case LanguageChinese:
		return chinesePrompt, nil
	default:
		return "", fmt.Errorf("ctxengine: unsupported output language %q", lang)
	}
}
