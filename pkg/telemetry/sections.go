package telemetry

// Sections returns the typed section list of a parsed document.
//
// The declared shape is {"response": {"data": [{"type", "content"}, ...]}}.
// A top-level array is taken as the section list itself. Any other object is
// a single implicit section: charging history when the record is flagged as a
// special session, vehicle telemetry otherwise.
func Sections(doc Value, flags Flags) []Section {
	if list := doc.Path("response", "data"); list.IsArray() {
		return sectionList(list)
	}

	if doc.IsArray() {
		return sectionList(doc)
	}

	if !doc.IsObject() {
		return nil
	}

	implicit := SectionVehicle
	if flags.SpecialSession {
		implicit = SectionCharging
	}

	return []Section{{Declared: string(implicit), Type: implicit, Content: doc}}
}

func sectionList(list Value) []Section {
	items := list.Items()
	out := make([]Section, 0, len(items))

	for _, item := range items {
		declared, _ := item.Get("type").Text()
		out = append(out, Section{
			Declared: declared,
			Type:     ParseSectionType(declared),
			Content:  item.Get("content"),
		})
	}

	return out
}
