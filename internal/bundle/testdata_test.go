package bundle

const sampleTOC = `<?xml version="1.0" encoding="UTF-8"?>
<xar>
 <subdoc subdoc_name="Ld">
  <version>1.0</version>
  <architecture>arm64</architecture>
  <platform>Unknown</platform>
  <sdkversion>NA</sdkversion>
 </subdoc>
 <toc>
  <checksum style="sha1"><offset>0</offset><size>20</size></checksum>
  <file id="1">
   <name>1</name>
   <type>file</type>
   <file-type>Bitcode</file-type>
   <clang><cmd>-triple</cmd><cmd>arm64-apple-ios9.0.0</cmd><cmd>-disable-llvm-passes</cmd><cmd>-O2</cmd></clang>
  </file>
  <file id="2">
   <name>2</name>
   <type>file</type>
   <file-type>Bitcode</file-type>
   <clang><cmd>-disable-llvm-passes</cmd><cmd>-triple</cmd><cmd>-disable-llvm-passes</cmd><cmd>-disable-llvm-passes</cmd></clang>
  </file>
  <file id="3">
   <name>3</name>
   <type>file</type>
   <file-type>Bitcode</file-type>
   <clang><cmd>-Os</cmd></clang>
  </file>
  <file id="4">
   <name>4</name>
   <file-type>Object</file-type>
  </file>
 </toc>
</xar>`

func mustParse(t interface {
	Helper()
	Fatalf(string, ...any)
}, data string) *Document {
	t.Helper()
	doc, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return doc
}

func cmdTexts(n *Node) []string {
	var out []string
	for _, c := range n.ChildrenNamed("cmd") {
		out = append(out, c.Text)
	}
	return out
}
