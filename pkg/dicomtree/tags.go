package dicomtree

import "seg2vol/pkg/tagtree"

// Attribute tags used by the segmentation decoder and the series scanner
var (
	SOPClassUID                 = tagtree.Tag{Group: 0x0008, Element: 0x0016}
	SOPInstanceUID              = tagtree.Tag{Group: 0x0008, Element: 0x0018}
	SeriesDescription           = tagtree.Tag{Group: 0x0008, Element: 0x103E}
	ReferencedSeriesSeq         = tagtree.Tag{Group: 0x0008, Element: 0x1115}
	ReferencedSOPClassUID       = tagtree.Tag{Group: 0x0008, Element: 0x1150}
	ReferencedSOPInstUID        = tagtree.Tag{Group: 0x0008, Element: 0x1155}
	SourceImageSeq              = tagtree.Tag{Group: 0x0008, Element: 0x2112}
	DerivationImageSeq          = tagtree.Tag{Group: 0x0008, Element: 0x9124}
	ReferencedInstanceSeq       = tagtree.Tag{Group: 0x0008, Element: 0x114A}
	SliceThickness              = tagtree.Tag{Group: 0x0018, Element: 0x0050}
	SpacingBetweenSlices        = tagtree.Tag{Group: 0x0018, Element: 0x0088}
	SeriesInstanceUID           = tagtree.Tag{Group: 0x0020, Element: 0x000E}
	SeriesNumber                = tagtree.Tag{Group: 0x0020, Element: 0x0011}
	InstanceNumber              = tagtree.Tag{Group: 0x0020, Element: 0x0013}
	ImagePositionPatient        = tagtree.Tag{Group: 0x0020, Element: 0x0032}
	ImageOrientationPatient     = tagtree.Tag{Group: 0x0020, Element: 0x0037}
	PlanePositionSeq            = tagtree.Tag{Group: 0x0020, Element: 0x9113}
	PlaneOrientationSeq         = tagtree.Tag{Group: 0x0020, Element: 0x9116}
	NumberOfFrames              = tagtree.Tag{Group: 0x0028, Element: 0x0008}
	Rows                        = tagtree.Tag{Group: 0x0028, Element: 0x0010}
	Columns                     = tagtree.Tag{Group: 0x0028, Element: 0x0011}
	PixelSpacing                = tagtree.Tag{Group: 0x0028, Element: 0x0030}
	PixelMeasuresSeq            = tagtree.Tag{Group: 0x0028, Element: 0x9110}
	SegmentationType            = tagtree.Tag{Group: 0x0062, Element: 0x0001}
	SegmentSeq                  = tagtree.Tag{Group: 0x0062, Element: 0x0002}
	SegmentNumber               = tagtree.Tag{Group: 0x0062, Element: 0x0004}
	SegmentLabel                = tagtree.Tag{Group: 0x0062, Element: 0x0005}
	SegmentIdentificationSeq    = tagtree.Tag{Group: 0x0062, Element: 0x000A}
	ReferencedSegmentNumber     = tagtree.Tag{Group: 0x0062, Element: 0x000B}
	RecommendedDisplayCIELab    = tagtree.Tag{Group: 0x0062, Element: 0x000D}
	SharedFunctionalGroupsSeq   = tagtree.Tag{Group: 0x5200, Element: 0x9229}
	PerFrameFunctionalGroupsSeq = tagtree.Tag{Group: 0x5200, Element: 0x9230}
	PixelData                   = tagtree.Tag{Group: 0x7FE0, Element: 0x0010}
)
