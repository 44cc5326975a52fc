package dexfile

import (
	"fmt"

	"undex/internal/dexfmt"
)

// MapType is the type code of a map_list entry.
type MapType uint16

const (
	MapHeader               MapType = 0x0000
	MapStringID             MapType = 0x0001
	MapTypeID               MapType = 0x0002
	MapProtoID              MapType = 0x0003
	MapFieldID              MapType = 0x0004
	MapMethodID             MapType = 0x0005
	MapClassDef             MapType = 0x0006
	MapCallSiteID           MapType = 0x0007
	MapMethodHandle         MapType = 0x0008
	MapMapList              MapType = 0x1000
	MapTypeList             MapType = 0x1001
	MapAnnotationSetRefList MapType = 0x1002
	MapAnnotationSet        MapType = 0x1003
	MapClassData            MapType = 0x2000
	MapCode                 MapType = 0x2001
	MapStringData           MapType = 0x2002
	MapDebugInfo            MapType = 0x2003
	MapAnnotation           MapType = 0x2004
	MapEncodedArray         MapType = 0x2005
	MapAnnotationsDirectory MapType = 0x2006
	MapHiddenAPIClassData   MapType = 0xf000
)

var mapTypeNames = map[MapType]string{
	MapHeader:               "header_item",
	MapStringID:             "string_id_item",
	MapTypeID:               "type_id_item",
	MapProtoID:              "proto_id_item",
	MapFieldID:              "field_id_item",
	MapMethodID:             "method_id_item",
	MapClassDef:             "class_def_item",
	MapCallSiteID:           "call_site_id_item",
	MapMethodHandle:         "method_handle_item",
	MapMapList:              "map_list",
	MapTypeList:             "type_list",
	MapAnnotationSetRefList: "annotation_set_ref_list",
	MapAnnotationSet:        "annotation_set_item",
	MapClassData:            "class_data_item",
	MapCode:                 "code_item",
	MapStringData:           "string_data_item",
	MapDebugInfo:            "debug_info_item",
	MapAnnotation:           "annotation_item",
	MapEncodedArray:         "encoded_array_item",
	MapAnnotationsDirectory: "annotations_directory_item",
	MapHiddenAPIClassData:   "hiddenapi_class_data_item",
}

func (t MapType) String() string {
	if n, ok := mapTypeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("unknown_item_0x%04x", uint16(t))
}

// MapItem is one map_list entry.
type MapItem struct {
	Type   MapType `json:"type"`
	Size   int     `json:"size"`
	Offset int     `json:"offset"`
}

func parseMapList(b dexfmt.Buffer, off int) ([]MapItem, error) {
	n, err := b.U32(off)
	if err != nil {
		return nil, err
	}
	if _, err := b.Slice(off+4, n*12); err != nil {
		return nil, err
	}
	items := make([]MapItem, 0, n)
	for i := 0; i < n; i++ {
		p := off + 4 + 12*i
		t, _ := b.Uint16(p)
		size, err := b.U32(p + 4)
		if err != nil {
			return nil, err
		}
		o, err := b.U32(p + 8)
		if err != nil {
			return nil, err
		}
		items = append(items, MapItem{Type: MapType(t), Size: size, Offset: o})
	}
	return items, nil
}

// MapItem returns the map entry for t, if present.
func (f *File) MapItem(t MapType) (MapItem, bool) {
	for _, m := range f.Maps {
		if m.Type == t {
			return m, true
		}
	}
	return MapItem{}, false
}
