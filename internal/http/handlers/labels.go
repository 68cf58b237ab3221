package handlers

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"

	"packshot/internal/domain"
)

var stepLabels = map[domain.Step][2]string{
	domain.StepUploading:   {"Uploading image", "Enviando imagem"},
	domain.StepDownloading: {"Fetching original", "Baixando original"},
	domain.StepSegmenting:  {"Removing background", "Removendo o fundo"},
	domain.StepComposing:   {"Composing on white", "Compondo no fundo branco"},
	domain.StepValidating:  {"Checking quality", "Verificando qualidade"},
	domain.StepSaving:      {"Saving results", "Salvando resultados"},
	domain.StepDone:        {"Done", "Concluído"},
}

var labelCatalog = func() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for step, l := range stepLabels {
		_ = b.SetString(language.English, string(step), l[0])
		_ = b.SetString(language.BrazilianPortuguese, string(step), l[1])
	}
	return b
}()

// stepLabel renders a step for display in the request locale. Unknown steps
// are returned unchanged.
func stepLabel(locale string, step domain.Step) string {
	if step == "" {
		return ""
	}
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.English
	}
	p := message.NewPrinter(tag, message.Catalog(labelCatalog))
	return p.Sprintf(string(step))
}
