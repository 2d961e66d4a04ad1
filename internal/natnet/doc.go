// Package natnet decodes OptiTrack NatNet motion-capture datagrams.
//
// A motion frame is a chain of variable-length records with no end markers:
//
//	MessageHeader   := u16 messageType, u16 byteCount
//	MotionFrame     := i32 frameNumber, i32 markerSetCount, MarkerSet[markerSetCount],
//	                   i32 unidentifiedMarkerCount, Vec3f[unidentifiedMarkerCount],
//	                   i32 rigidBodyCount, RigidBody[rigidBodyCount]
//	MarkerSet       := cstring name, i32 markerCount, Vec3f[markerCount]
//	RigidBody       := i32 id, f32 x,y,z, f32 qx,qy,qz,qw, i32 markerCount,
//	                   Vec3f[markerCount], i32[markerCount] markerIds,
//	                   f32[markerCount] markerSizes, f32 meanError, i16 validFlag
//
// Rigid bodies carry no name on the wire. Body i takes the name of marker
// set i, so the decoder records marker-set names in order while skipping
// their marker payloads.
//
// Decoding is all-or-nothing: a datagram either yields a complete Frame or a
// *DecodeError wrapping ErrTruncated or ErrMalformed. Every read is bounds
// checked against the declared payload, so hostile or corrupt input can
// never cause an out-of-range access or a panic.
package natnet
