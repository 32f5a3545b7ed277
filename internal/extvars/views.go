package extvars

import (
	"strings"

	"shroomdump/internal/services"
)

// Well-known keys of the external variables document.
const (
	KeyFlashDynamicDownloadURL = "flash.dynamic.download.url"
	KeyExternalTexts           = "external.texts.txt"
	KeyFigurePartList          = "external.figurepartlist.txt"
	KeyOverrideTexts           = "external.override.texts.txt"
	KeyImageLibraryURL         = "image.library.url"
	KeyFigureMap               = "flash.dynamic.avatar.download.configuration"
	KeyFurniData               = "furnidata.load.url"
	KeyAvatarDownloadURL       = "flash.dynamic.avatar.download.url"

	PrefixCastEntry = "cast.entry."
	PrefixRoomCast  = "room.cast."

	effectMapFile = "effectmap.xml"
)

// OriginsVariables is the typed view used by the Shockwave client dump.
type OriginsVariables struct {
	FlashDynamicDownloadURL string
	ExternalTextsURL        string
	FigurePartListURL       string
	OverrideTextsURL        string
	ImageLibraryURL         string
	CastEntries             []GroupEntry
	RoomCasts               []GroupEntry
}

// ExtractOrigins builds the origins view from a resolved set.
func ExtractOrigins(set *VariableSet) OriginsVariables {
	return OriginsVariables{
		FlashDynamicDownloadURL: set.Value(KeyFlashDynamicDownloadURL),
		ExternalTextsURL:        set.Value(KeyExternalTexts),
		FigurePartListURL:       set.Value(KeyFigurePartList),
		OverrideTextsURL:        set.Value(KeyOverrideTexts),
		ImageLibraryURL:         set.Value(KeyImageLibraryURL),
		CastEntries:             ExtractGroups(set, PrefixCastEntry),
		RoomCasts:               ExtractGroups(set, PrefixRoomCast),
	}
}

// Require reports the first missing required URL as a config error.
func (v OriginsVariables) Require() error {
	if strings.TrimSpace(v.FlashDynamicDownloadURL) == "" {
		return missing(KeyFlashDynamicDownloadURL)
	}
	if strings.TrimSpace(v.FigurePartListURL) == "" {
		return missing(KeyFigurePartList)
	}
	return nil
}

// StandardVariables is the typed view used by the gamedata dump.
type StandardVariables struct {
	FigureDataURL    string
	FigureMapURL     string
	FurniDataURL     string
	FurnitureBaseURL string
	EffectMapURL     string
}

// ExtractStandard builds the standard view from a resolved set.
func ExtractStandard(set *VariableSet) StandardVariables {
	vars := StandardVariables{
		FigureDataURL:    set.Value(KeyFigurePartList),
		FigureMapURL:     set.Value(KeyFigureMap),
		FurniDataURL:     set.Value(KeyFurniData),
		FurnitureBaseURL: set.Value(KeyFlashDynamicDownloadURL),
	}
	if base := strings.TrimSpace(set.Value(KeyAvatarDownloadURL)); base != "" {
		vars.EffectMapURL = strings.TrimRight(base, "/") + "/" + effectMapFile
	}
	return vars
}

// Require reports the first missing required URL as a config error.
func (v StandardVariables) Require() error {
	if strings.TrimSpace(v.FigureDataURL) == "" {
		return missing(KeyFigurePartList)
	}
	if strings.TrimSpace(v.FurniDataURL) == "" {
		return missing(KeyFurniData)
	}
	return nil
}

// Documents lists the gamedata documents to download, keyed by local file
// name. Optional documents with no URL are omitted.
func (v StandardVariables) Documents() map[string]string {
	docs := map[string]string{}
	add := func(name, url string) {
		if strings.TrimSpace(url) != "" {
			docs[name] = url
		}
	}
	add("figuredata.xml", v.FigureDataURL)
	add("figuremap.xml", v.FigureMapURL)
	add("furnidata.xml", v.FurniDataURL)
	add(effectMapFile, v.EffectMapURL)
	return docs
}

func missing(key string) error {
	return services.Wrap(services.KindConfig, "require variable", key, "missing or empty", nil)
}
